// Package session provee el almacén de notas por sesión de autenticación.
//
// Cada intento de login tiene un mapa string->string de notas que debe
// sobrevivir round-trips HTTP independientes. Soporta:
//   - Memory (in-process, para desarrollo/testing)
//   - Redis (distribuido, para producción)
package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Claves de nota. Son las únicas dos notas que el flujo persiste entre pasos.
const (
	NoteTransactionID = "transaction_id"
	NoteAuthCounter   = "auth_counter"
)

// Store define las operaciones sobre las notas de una sesión.
// Semántica last-writer-wins, sin garantías transaccionales.
type Store interface {
	// GetNote obtiene una nota. Retorna ErrNotFound si no existe.
	GetNote(ctx context.Context, sessionID, key string) (string, error)

	// SetNote guarda una nota y renueva el TTL de la sesión.
	SetNote(ctx context.Context, sessionID, key, value string) error

	// Discard elimina todas las notas de la sesión.
	Discard(ctx context.Context, sessionID string) error

	// Ping verifica la conexión.
	Ping(ctx context.Context) error

	// Close cierra la conexión.
	Close() error
}

// Config configuración para crear un Store.
type Config struct {
	Kind     string // "memory" | "redis"
	TTL      time.Duration
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Errores del store.
var ErrNotFound = errNotFound{}

type errNotFound struct{}

func (errNotFound) Error() string { return "session: note not found" }

// IsNotFound verifica si el error es porque la nota no existe.
// Reconoce también errores que envuelven ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// New crea un Store según la configuración.
func New(cfg Config) (Store, error) {
	switch cfg.Kind {
	case "redis":
		return NewRedis(cfg)
	case "memory", "":
		return NewMemory(cfg.TTL), nil
	default:
		return nil, fmt.Errorf("session: unknown store kind %q", cfg.Kind)
	}
}

// Attempt es el estado tipado de un intento de autenticación en curso.
// Se serializa a/desde las notas en los dos puntos de transición definidos:
// salida del begin y entrada/salida del resume.
type Attempt struct {
	// TransactionID identifica un challenge multi-paso en el servidor MFA.
	// Vacío hasta que el servidor emite uno.
	TransactionID string

	// Counter cuenta las invocaciones del paso resume. Solo se usa como
	// índice en la pauta de polling; el clamping lo hace el flujo.
	Counter int
}

// LoadAttempt reconstruye el Attempt desde las notas de la sesión.
// Un transaction id ausente es normal (queda vacío). Un contador ausente o
// corrupto es una falla de integridad del entorno y se reporta como error.
func LoadAttempt(ctx context.Context, st Store, sessionID string) (Attempt, error) {
	var a Attempt

	if v, err := st.GetNote(ctx, sessionID, NoteTransactionID); err == nil {
		a.TransactionID = v
	} else if !IsNotFound(err) {
		return Attempt{}, err
	}

	v, err := st.GetNote(ctx, sessionID, NoteAuthCounter)
	if err != nil {
		if IsNotFound(err) {
			// Sin contador no hay intento en curso: la sesión nunca pasó por
			// begin o ya expiró.
			return Attempt{}, fmt.Errorf("session: attempt counter missing: %w", ErrNotFound)
		}
		return Attempt{}, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return Attempt{}, fmt.Errorf("session: bad attempt counter %q: %w", v, err)
	}
	a.Counter = n

	return a, nil
}

// Save persiste el Attempt en las notas. El transaction id solo se guarda si
// no está vacío, para no propagar un id inválido aguas abajo.
func (a Attempt) Save(ctx context.Context, st Store, sessionID string) error {
	if err := st.SetNote(ctx, sessionID, NoteAuthCounter, strconv.Itoa(a.Counter)); err != nil {
		return err
	}
	if a.TransactionID != "" {
		if err := st.SetNote(ctx, sessionID, NoteTransactionID, a.TransactionID); err != nil {
			return err
		}
	}
	return nil
}
