package meals

import (
	"context"
	"fmt"
	"strings"

	"github.com/smartmess/billing-engine/mess"
	"github.com/smartmess/billing-engine/notify"
)

// announce is best-effort: failures are logged and never surface.
func (r *Reconciler) announce(ctx context.Context, m *mess.Mess, actorID, content string) {
	err := r.announcer.Announce(ctx, notify.Announcement{
		MessID:  m.ID,
		RoomID:  m.ChatRoom,
		ActorID: actorID,
		Content: content,
		Type:    "text",
	})
	if err != nil {
		r.logger.Warn("Reconciler", "Failed to send off day announcement", map[string]any{
			"mess_id": m.ID,
			"error":   err.Error(),
		})
	}
}

func (r *Reconciler) announceIfEnabled(ctx context.Context, messID, actorID, content string) {
	settings, err := r.store.GetOffDaySettings(ctx, messID)
	if err != nil || !settings.AnnounceOffDays {
		return
	}
	m, err := r.store.GetMess(ctx, messID)
	if err != nil {
		return
	}
	r.announce(ctx, m, actorID, content)
}

func createdMessage(o mess.OffDay) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Mess closed %s", describeClosure(o))
	if o.Reason != "" {
		fmt.Fprintf(&b, ". Reason: %s", o.Reason)
	}
	if o.SubscriptionExtension {
		b.WriteString(". Subscriptions will be extended for the missed meals")
	}
	b.WriteString(".")
	return b.String()
}

func updatedMessage(o mess.OffDay) string {
	msg := "Off day updated: mess closed " + describeClosure(o)
	if o.Reason != "" {
		msg += ". Reason: " + o.Reason
	}
	return msg + "."
}

func cancelledMessage(o mess.OffDay) string {
	return fmt.Sprintf("Off day on %s cancelled. The mess will be open as usual.", describeDates(o))
}

func describeDates(o mess.OffDay) string {
	if o.IsRange() {
		return fmt.Sprintf("%s to %s", o.OffDate, o.EndDate)
	}
	return o.OffDate.String()
}

func describeClosure(o mess.OffDay) string {
	w := OffDayWindow(o)
	if !o.IsRange() {
		return fmt.Sprintf("on %s (%s)", o.OffDate, mealList(w.StartMeals))
	}
	return fmt.Sprintf("from %s (%s) to %s (%s)",
		o.OffDate, mealList(w.StartMeals), o.EndDate, mealList(w.EndMeals))
}

func mealList(s MealSet) string {
	if s == AllMeals {
		return "all meals"
	}
	parts := make([]string, 0, 3)
	for _, t := range s.Types() {
		parts = append(parts, string(t))
	}
	return strings.Join(parts, ", ")
}
