package ports

import "github.com/alejandrodnm/polycopy/internal/domain"

// Notifier recibe los eventos operativos del engine. La implementación
// de consola los renderiza; una futura de Telegram los enviaría.
type Notifier interface {
	// NotifyEntry se llama tras abrir una posición copiada.
	NotifyEntry(pos domain.Position, fill domain.Fill)

	// NotifyExit se llama tras cerrar una posición, con el PnL realizado.
	NotifyExit(pos domain.Position)

	// NotifyHalt se llama cuando el risk guard suspende las entradas.
	NotifyHalt(reason string)
}
