package orchestrator

import (
	"context"
	"time"

	"github.com/ssergorp/menagerie/internal/decision"
	"github.com/ssergorp/menagerie/internal/platform"
	"github.com/ssergorp/menagerie/internal/roster"
)

// RotationTick nudges a random agent toward channels that have gone quiet.
// The candidate still passes through the full dispatch pipeline, so a
// rotation pick that the decider declines stays silent.
func (o *Orchestrator) RotationTick(ctx context.Context) {
	o.metrics.TickCounter.WithLabelValues("rotation").Inc()

	stale := o.staleChannels(o.now(), o.config.RotationStale)
	if len(stale) == 0 {
		return
	}
	o.shuffle(len(stale), func(i, j int) {
		stale[i], stale[j] = stale[j], stale[i]
	})
	if len(stale) > o.config.RotationBatch {
		stale = stale[:o.config.RotationBatch]
	}

	for _, ch := range stale {
		if ctx.Err() != nil {
			return
		}
		agent, ok, err := o.pickAgent(ctx)
		if err != nil {
			o.logger.Warn("roster unavailable during rotation", "error", err)
			return
		}
		if !ok {
			return
		}

		msgs, err := o.platform.RecentMessages(ctx, ch.ID, o.config.RecentWindow)
		if err != nil {
			o.logger.Warn("recent message fetch failed during rotation",
				"channel_id", ch.ID, "error", err)
			continue
		}

		triggeredByBot := len(msgs) > 0 && msgs[len(msgs)-1].AuthorIsAgent
		outcome := o.Dispatch(ctx, ch, agent, dispatchOpts{
			triggeredByBot: triggeredByBot,
			saturation:     decision.BotSaturation(msgs, o.config.SaturationWindow),
			messages:       msgs,
		})
		o.logger.Debug("rotation dispatch",
			"channel_id", ch.ID, "agent_id", agent.ID, "outcome", outcome)
	}
}

// staleChannels snapshots known channels whose last activity is older than
// the given age.
func (o *Orchestrator) staleChannels(now time.Time, age time.Duration) []platform.Channel {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []platform.Channel
	for id, st := range o.channels {
		if now.Sub(st.lastActivity) >= age {
			out = append(out, platform.Channel{ID: id, GuildID: st.guildID})
		}
	}
	return out
}

func (o *Orchestrator) pickAgent(ctx context.Context) (roster.Agent, bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return roster.PickRandom(ctx, o.roster, o.rng)
}
