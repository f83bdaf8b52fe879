package ports

import (
	"context"

	"github.com/alejandrodnm/hammerbot/internal/domain"
)

// BookStream entrega snapshots del libro de órdenes por token sobre una suscripción persistente.
type BookStream interface {
	// Stream bloquea hasta que ctx se cancela, reconectando cuando la conexión cae.
	// Cada snapshot recibido se envía a out.
	Stream(ctx context.Context, out chan<- domain.BookUpdate) error

	// SetTokens reemplaza el conjunto de tokens suscritos.
	// Es seguro llamarlo desde otra goroutine mientras Stream corre.
	SetTokens(tokens []string)
}
