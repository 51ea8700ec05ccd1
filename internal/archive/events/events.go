package events

import "github.com/ksdme/mailvault/internal/bus"

// Emitted with the mailbox id on the owning account's topic whenever
// new mail was archived into the mailbox.
var MailboxContentsUpdatedSignal = bus.NewSignalBus[int64]()
