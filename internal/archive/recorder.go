package archive

import (
	"context"

	"github.com/park285/cheese-lobby/internal/domain"
	"github.com/park285/cheese-lobby/internal/lobby"
	"github.com/park285/cheese-lobby/internal/obslog"
	"go.uber.org/zap"
)

type SessionSaver interface {
	SaveSession(ctx context.Context, rec *domain.SessionRecord) error
}

// Recorder archives sessions as they end; other events are ignored.
type Recorder struct {
	saver SessionSaver
}

func NewRecorder(saver SessionSaver) *Recorder { return &Recorder{saver: saver} }

func (r *Recorder) HandleEvent(ctx context.Context, ev lobby.Event) error {
	if ev.Kind != lobby.EventSessionEnded || ev.Session == nil {
		return nil
	}
	if err := r.saver.SaveSession(ctx, ev.Session); err != nil {
		return err
	}
	obslog.L().Info("archive_session_saved",
		zap.Uint64("session_id", ev.Session.ID),
		zap.String("game_uuid", ev.Session.GameUUID),
		zap.Int("moves", len(ev.Session.MovesCoord)),
	)
	return nil
}
