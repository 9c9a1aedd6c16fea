package formatter

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/trener-gymbot-go/internal/models"
)

// FormatRoutine renders a generated routine as markdown
func FormatRoutine(r models.Routine) string {
	var b strings.Builder

	b.WriteString("🏋️ **" + orDefault(r.Name, "Rutina") + "**")
	if r.Type != "" {
		b.WriteString(" (" + r.Type + ")")
	}
	b.WriteString("\n")

	if r.Date != "" {
		b.WriteString("📅 " + r.Date + "\n")
	}
	if len(r.MuscleGroups) > 0 {
		b.WriteString("💪 Grupos: " + strings.Join(r.MuscleGroups, ", ") + "\n")
	}
	if r.DurationMinute > 0 {
		fmt.Fprintf(&b, "⏱️ ~%d min\n", r.DurationMinute)
	}

	if len(r.Exercises) > 0 {
		b.WriteString("\n")
		for _, ex := range r.Exercises {
			b.WriteString(exerciseLine(ex.Name, ex.Series, formatValue(ex.Reps), formatValue(ex.Weight)))
		}
	}

	if r.Notes != "" {
		b.WriteString("\n📝 " + r.Notes + "\n")
	}

	return strings.TrimRight(b.String(), "\n")
}

// FormatSession renders the workout in progress as markdown
func FormatSession(s models.SessionSummary) string {
	var b strings.Builder

	b.WriteString("🏋️ **Entrenamiento en curso**")
	if s.Name != "" {
		b.WriteString(": " + s.Name)
	}
	b.WriteString("\n")

	if !s.StartedAt.IsZero() {
		b.WriteString("🕐 Inicio: " + s.StartedAt.Format("02/01 15:04") + "\n")
	}

	if len(s.Exercises) == 0 {
		b.WriteString("\nAún no registraste ejercicios.")
		return b.String()
	}

	b.WriteString("\n")
	for _, ex := range s.Exercises {
		b.WriteString(exerciseLine(ex.Name, ex.Sets, repsString(ex.Reps), formatNumber(ex.Weight)))
	}
	fmt.Fprintf(&b, "\nTotal: %d ejercicios", len(s.Exercises))

	return b.String()
}

func exerciseLine(name string, series int, reps, weight string) string {
	line := "• " + orDefault(name, "Ejercicio")
	if series > 0 || reps != "" {
		line += ": " + strconv.Itoa(series) + " x " + orDefault(reps, "?")
	}
	if weight != "" {
		if _, err := strconv.ParseFloat(weight, 64); err == nil {
			weight += " kg"
		}
		line += " @ " + weight
	}
	return line + "\n"
}

// formatValue renders reps/weight values that may be numbers, lists of
// numbers or free text. Zero and missing values render as "".
func formatValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case float64:
		return formatNumber(val)
	case int:
		return formatNumber(float64(val))
	case string:
		return strings.TrimSpace(val)
	case []interface{}:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			if s := formatValue(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "-")
	default:
		return fmt.Sprint(val)
	}
}

func formatNumber(f float64) string {
	if f == 0 {
		return ""
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func repsString(n int) string {
	if n == 0 {
		return ""
	}
	return strconv.Itoa(n)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
