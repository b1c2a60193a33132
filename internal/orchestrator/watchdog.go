package orchestrator

import (
	"context"

	"github.com/ssergorp/menagerie/internal/platform"
)

// WatchdogTick fires when the whole platform has been silent for longer
// than the idle threshold. It forces exactly one dispatch into a random
// recently active channel (any known channel when none are recent) and
// resets the idle clock whether or not the send lands, so a failing
// generator cannot cause a forced-dispatch storm.
func (o *Orchestrator) WatchdogTick(ctx context.Context) {
	o.metrics.TickCounter.WithLabelValues("watchdog").Inc()

	now := o.now()
	o.mu.Lock()
	idle := now.Sub(o.lastMessageAt)
	if idle < o.config.IdleThreshold || len(o.channels) == 0 {
		o.mu.Unlock()
		return
	}
	cutoff := now.Add(-o.config.ActivityWindow)
	ids := make([]string, 0, len(o.channels))
	for id, st := range o.channels {
		if st.lastActivity.After(cutoff) {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		for id := range o.channels {
			ids = append(ids, id)
		}
	}
	id := ids[o.rng.Intn(len(ids))]
	ch := platform.Channel{ID: id, GuildID: o.channels[id].guildID}
	o.lastMessageAt = now
	o.mu.Unlock()

	agent, ok, err := o.pickAgent(ctx)
	if err != nil {
		o.logger.Warn("roster unavailable during idle watchdog", "error", err)
		return
	}
	if !ok {
		return
	}

	msgs, err := o.platform.RecentMessages(ctx, ch.ID, o.config.RecentWindow)
	if err != nil {
		o.logger.Warn("recent message fetch failed during idle watchdog",
			"channel_id", ch.ID, "error", err)
		return
	}

	triggeredByBot := len(msgs) > 0 && msgs[len(msgs)-1].AuthorIsAgent
	outcome := o.Dispatch(ctx, ch, agent, dispatchOpts{
		force:          true,
		triggeredByBot: triggeredByBot,
		messages:       msgs,
	})
	o.logger.Info("idle watchdog fired",
		"idle", idle, "channel_id", ch.ID, "agent_id", agent.ID, "outcome", outcome)
}
