package intent

import (
	"github.com/trener-gymbot-go/internal/config"
)

// Keywords holds the phrase sets the classifier matches against. Phrases are
// compared after normalization, so accents and case do not matter.
type Keywords struct {
	StartPhrases   []string
	EndPhrases     []string
	CancelPhrases  []string
	ShortEnd       []string
	ShortCancel    []string
	Exercises      []string
	DataTriggers   []string
	Interrogatives []string
}

// DefaultKeywords returns the built-in Spanish and English phrase sets
func DefaultKeywords() Keywords {
	return Keywords{
		StartPhrases: []string{
			"iniciar entrenamiento", "empezar entrenamiento", "comenzar entrenamiento",
			"iniciar sesion", "empezar sesion", "nueva sesion", "nuevo entrenamiento",
			"voy a entrenar", "arrancar entrenamiento",
			"start workout", "start session", "begin workout",
		},
		EndPhrases: []string{
			"terminar entrenamiento", "finalizar entrenamiento", "termine el entrenamiento",
			"termine de entrenar", "fin del entrenamiento", "terminar sesion", "finalizar sesion",
			"acabe el entrenamiento",
			"finish workout", "end workout", "end session",
		},
		CancelPhrases: []string{
			"cancelar entrenamiento", "cancelar sesion", "descartar entrenamiento",
			"borrar entrenamiento", "cancel workout", "cancel session",
		},
		ShortEnd:    []string{"listo", "terminar", "termine", "finalizar", "acabe", "done"},
		ShortCancel: []string{"cancelar", "cancela", "descartar", "cancel"},
		Exercises: []string{
			"press", "banca", "sentadilla", "sentadillas", "peso muerto", "dominadas", "remo",
			"curl", "jalon", "fondos", "zancadas", "prensa", "militar", "hip thrust",
			"extension", "extensiones", "elevaciones", "aperturas", "face pull", "pullover",
			"bench", "squat", "deadlift", "row", "pull up", "pullups", "lunges", "dips",
		},
		DataTriggers: []string{
			"cuanto levanto", "cuanto levante", "cuanto peso", "maximo", "record", "records",
			"mi mejor", "mejor marca", "mejores marcas", "pr", "prs",
			"ultimo entrenamiento", "ultima rutina", "ultima vez", "ultima sesion",
			"semana pasada", "esta semana", "este mes", "mes pasado", "ayer",
			"historial", "progreso", "racha", "estadisticas", "stats",
			"cuantas veces", "cuantos entrenamientos", "que entrene", "mis entrenamientos",
			"last workout", "this week", "last week", "history", "progress", "streak",
			"my best", "personal record",
		},
		Interrogatives: []string{
			"que", "cuanto", "cuanta", "cuantos", "cuantas", "como", "cual", "cuales",
			"cuando", "donde", "quien", "por que", "puedo", "deberia",
			"what", "how", "which", "when", "where", "who", "why", "should",
		},
	}
}

// KeywordsFromConfig overlays the configured phrase sets on the defaults.
// A set left empty in the configuration keeps its default.
func KeywordsFromConfig(cfg config.KeywordsConfig) Keywords {
	kw := DefaultKeywords()
	override(&kw.StartPhrases, cfg.StartPhrases)
	override(&kw.EndPhrases, cfg.EndPhrases)
	override(&kw.CancelPhrases, cfg.CancelPhrases)
	override(&kw.ShortEnd, cfg.ShortEnd)
	override(&kw.ShortCancel, cfg.ShortCancel)
	override(&kw.Exercises, cfg.Exercises)
	override(&kw.DataTriggers, cfg.DataTriggers)
	override(&kw.Interrogatives, cfg.Interrogatives)
	return kw
}

func override(dst *[]string, src []string) {
	if len(src) > 0 {
		*dst = src
	}
}
