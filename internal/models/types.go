package models

import (
	"time"
)

// Turn is one role-tagged message of a conversation
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Turn roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Routine is a generated workout plan
type Routine struct {
	ID             string            `json:"id,omitempty"`
	Name           string            `json:"nombre"`
	Type           string            `json:"tipo"`
	Date           string            `json:"fecha,omitempty"`
	MuscleGroups   []string          `json:"grupos_musculares,omitempty"`
	Exercises      []RoutineExercise `json:"ejercicios"`
	Notes          string            `json:"notas,omitempty"`
	DurationMinute int               `json:"duracion_aprox_min,omitempty"`
}

// RoutineExercise is one planned exercise. Reps and weight are kept raw because
// the backend sends either a number, a list of numbers or free text ("ajustar").
type RoutineExercise struct {
	Name   string      `json:"nombre"`
	Series int         `json:"series"`
	Reps   interface{} `json:"repeticiones"`
	Weight interface{} `json:"peso_kg"`
}

// SessionSummary describes an in-progress workout session
type SessionSummary struct {
	ID        string            `json:"id,omitempty"`
	Name      string            `json:"nombre,omitempty"`
	StartedAt time.Time         `json:"inicio,omitempty"`
	Exercises []SessionExercise `json:"ejercicios,omitempty"`
}

// SessionExercise is an exercise logged into the active session
type SessionExercise struct {
	Name   string  `json:"nombre"`
	Sets   int     `json:"series"`
	Reps   int     `json:"repeticiones"`
	Weight float64 `json:"peso_kg"`
}
