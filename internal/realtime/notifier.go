package realtime

import (
	"context"

	"github.com/Perfect-Match-Org/PMTI/internal/protocol"
)

// Notifier turns committed survey changes into row-update messages.
type Notifier struct {
	bus Bus
}

func NewNotifier(bus Bus) *Notifier {
	return &Notifier{bus: bus}
}

func (n *Notifier) SurveyChanged(ctx context.Context, snapshot protocol.Snapshot) error {
	msg, err := protocol.RowUpdate(snapshot)
	if err != nil {
		return err
	}
	return n.bus.Publish(ctx, protocol.Topic(snapshot.SurveyID), msg, "")
}
