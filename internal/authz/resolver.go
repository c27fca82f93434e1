// Package authz decides whether an authenticated user may join a room. The
// entitlement data itself lives in the membership application; this package
// only asks, and fails closed when it cannot get an answer.
package authz

import (
	"context"
	"log/slog"

	"github.com/Schlossparktheater-Altrossthal/realtime/internal/metrics"
	"github.com/Schlossparktheater-Altrossthal/realtime/pkg/room"
	"github.com/google/uuid"
)

// MembershipStore is the external collaborator that knows who belongs to
// which rehearsal or show.
type MembershipStore interface {
	// IsRehearsalParticipant reports whether the user is an attendee, an
	// invitee, or the creator of the rehearsal.
	IsRehearsalParticipant(ctx context.Context, userID, rehearsalID string) (bool, error)
	// HasShowAccess reports whether the user has a casting on one of the
	// show's characters or an attendee/invitee relation to any of its
	// rehearsals.
	HasShowAccess(ctx context.Context, userID, showID string) (bool, error)
}

type Resolver struct {
	store   MembershipStore
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewResolver(logger *slog.Logger, store MembershipStore, m *metrics.Metrics) *Resolver {
	return &Resolver{
		store:   store,
		logger:  logger.With(slog.String("component", "room_authz")),
		metrics: m,
	}
}

// Allowed reports whether the user may join the room. Denials and lookup
// failures are logged here; this is the only audit trail for unauthorized
// join attempts, so every refusal names the socket, the user and the room.
func (r *Resolver) Allowed(ctx context.Context, connID uuid.UUID, userID, roomName string) bool {
	parsed := room.Parse(roomName)

	switch parsed.Kind {
	case room.KindGlobal:
		return true

	case room.KindUser:
		if userID == "" {
			r.deny(connID, userID, roomName, "personal room requires authentication")
			return false
		}
		if userID != parsed.ID {
			r.deny(connID, userID, roomName, "personal room belongs to a different user")
			return false
		}
		return true

	case room.KindRehearsal:
		if userID == "" {
			r.deny(connID, userID, roomName, "rehearsal room requires authentication")
			return false
		}
		ok, err := r.store.IsRehearsalParticipant(ctx, userID, parsed.ID)
		if err != nil {
			r.lookupFailed(connID, userID, roomName, err)
			return false
		}
		if !ok {
			r.deny(connID, userID, roomName, "no attendance, invite or creator relation to rehearsal")
			return false
		}
		return true

	case room.KindShow:
		if userID == "" {
			r.deny(connID, userID, roomName, "show room requires authentication")
			return false
		}
		ok, err := r.store.HasShowAccess(ctx, userID, parsed.ID)
		if err != nil {
			r.lookupFailed(connID, userID, roomName, err)
			return false
		}
		if !ok {
			r.deny(connID, userID, roomName, "no casting or rehearsal relation to show")
			return false
		}
		return true

	default:
		// Unknown prefixes stay joinable for authenticated users so new room
		// types can ship without a realtime deploy.
		if userID == "" {
			r.deny(connID, userID, roomName, "unknown room type requires authentication")
			return false
		}
		return true
	}
}

func (r *Resolver) deny(connID uuid.UUID, userID, roomName, reason string) {
	r.metrics.JoinDenials.WithLabelValues(metrics.DenialNotEntitled).Inc()
	r.logger.Warn("Room join denied",
		slog.String("connID", connID.String()),
		slog.String("user", describeUser(userID)),
		slog.String("room", roomName),
		slog.String("reason", reason),
	)
}

// lookupFailed logs at error level so operators can tell "user not
// entitled" apart from "backend broken". Access is still refused.
func (r *Resolver) lookupFailed(connID uuid.UUID, userID, roomName string, err error) {
	r.metrics.JoinDenials.WithLabelValues(metrics.DenialLookupError).Inc()
	r.logger.Error("Room membership lookup failed, denying access",
		slog.String("connID", connID.String()),
		slog.String("user", describeUser(userID)),
		slog.String("room", roomName),
		slog.Any("error", err),
	)
}

func describeUser(userID string) string {
	if userID == "" {
		return "unauthenticated"
	}
	return userID
}
