package logger

import (
	"time"

	"go.uber.org/zap"
)

// Campos estándar para que todos los logs usen los mismos nombres.

// --- HTTP ---

// RequestID crea un campo para el ID del request.
func RequestID(v string) zap.Field {
	return zap.String("request_id", v)
}

// Method crea un campo para el método HTTP.
func Method(v string) zap.Field {
	return zap.String("method", v)
}

// Path crea un campo para el path del request.
func Path(v string) zap.Field {
	return zap.String("path", v)
}

// Status crea un campo para el status code HTTP.
func Status(v int) zap.Field {
	return zap.Int("status", v)
}

// Duration crea un campo para la duración del request.
func Duration(v time.Duration) zap.Field {
	return zap.Duration("duration", v)
}

// Bytes crea un campo para los bytes de respuesta.
func Bytes(v int) zap.Field {
	return zap.Int("bytes", v)
}

// --- Negocio ---

// Username crea un campo para el usuario autenticándose.
func Username(v string) zap.Field {
	return zap.String("username", v)
}

// SessionID crea un campo para el ID de la sesión de autenticación.
func SessionID(v string) zap.Field {
	return zap.String("session_id", v)
}

// TransactionID crea un campo para el transaction id del servidor MFA.
func TransactionID(v string) zap.Field {
	return zap.String("transaction_id", v)
}

// TokenType crea un campo para el tipo de token presentado (push|otp).
func TokenType(v string) zap.Field {
	return zap.String("token_type", v)
}

// --- Sistema ---

// Component crea un campo para el componente/módulo.
func Component(v string) zap.Field {
	return zap.String("component", v)
}

// Op crea un campo para la operación actual.
func Op(v string) zap.Field {
	return zap.String("op", v)
}

// Layer crea un campo para la capa (controller, service, client).
func Layer(v string) zap.Field {
	return zap.String("layer", v)
}

// Err crea un campo para un error.
func Err(err error) zap.Field {
	return zap.Error(err)
}

// --- Genéricos ---

// Count crea un campo para un conteo.
func Count(v int) zap.Field {
	return zap.Int("count", v)
}

// String crea un campo string genérico.
func String(key, v string) zap.Field {
	return zap.String(key, v)
}

// Int crea un campo int genérico.
func Int(key string, v int) zap.Field {
	return zap.Int(key, v)
}

// Bool crea un campo bool genérico.
func Bool(key string, v bool) zap.Field {
	return zap.Bool(key, v)
}

// Any crea un campo genérico para cualquier tipo.
func Any(key string, v any) zap.Field {
	return zap.Any(key, v)
}
