package bonus

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// =============================================================================
// DEPOSIT-TRIGGERED HANDLERS
// =============================================================================

// FirstDepositHandler awards once, on the first deposit ever. Users who
// already hold a first_deposit or welcome bonus, or whose profile records a
// prior deposit, do not qualify.
type FirstDepositHandler struct {
	DefaultHandler
}

func (h *FirstDepositHandler) ValidateSpecific(ctx context.Context, ec *EvalContext) error {
	if made, ok := ec.User.Metadata.GetBool("hasMadeFirstDeposit"); ok && made {
		return NotEligible("user has already made a first deposit")
	}
	return rejectExistingOfTypes(ctx, ec, TypeFirstDeposit, TypeWelcome)
}

// WelcomeHandler awards once per user, exclusive with first_deposit.
type WelcomeHandler struct {
	DefaultHandler
}

func (h *WelcomeHandler) ValidateSpecific(ctx context.Context, ec *EvalContext) error {
	return rejectExistingOfTypes(ctx, ec, TypeWelcome, TypeFirstDeposit)
}

// ReloadHandler awards on repeat deposits with an optional cooldown between
// awards.
type ReloadHandler struct {
	DefaultHandler
}

func (h *ReloadHandler) ValidateSpecific(ctx context.Context, ec *EvalContext) error {
	cooldown := ec.Template.CooldownHours
	if cooldown <= 0 {
		return nil
	}

	existing, err := ec.Queries.ListUserBonuses(ctx, ec.TenantID, ec.User.ID)
	if err != nil {
		return err
	}
	var lastReload time.Time
	for _, ub := range existing {
		if ub.Type == TypeReload && ub.QualifiedAt.After(lastReload) {
			lastReload = ub.QualifiedAt
		}
	}
	if lastReload.IsZero() {
		return nil
	}
	if elapsed := ec.Now.Sub(lastReload); elapsed < time.Duration(cooldown)*time.Hour {
		return NotEligible(fmt.Sprintf("reload cooldown active, %s remaining",
			(time.Duration(cooldown)*time.Hour - elapsed).Round(time.Minute)))
	}
	return nil
}

// FirstActionHandler covers first_purchase and first_action: a per-action
// metadata flag plus no prior bonus of the same kind.
type FirstActionHandler struct {
	DefaultHandler
	Flag string
	Kind Type
}

func (h *FirstActionHandler) ValidateSpecific(ctx context.Context, ec *EvalContext) error {
	if done, ok := ec.User.Metadata.GetBool(h.Flag); ok && done {
		return NotEligible("user has already performed this action")
	}
	return rejectExistingOfTypes(ctx, ec, h.Kind)
}

// =============================================================================
// COMPETITIVE HANDLERS
// =============================================================================

// TournamentHandler pays position-based awards once per tournament.
type TournamentHandler struct {
	DefaultHandler
}

func (h *TournamentHandler) ValidateSpecific(ctx context.Context, ec *EvalContext) error {
	tournamentID, ok := ec.Metadata.GetString("tournamentId")
	if !ok || tournamentID == "" {
		return NotEligible("tournamentId missing")
	}
	position, ok := ec.Metadata.GetInt64("position")
	if !ok || position < 1 {
		return NotEligible("position must be >= 1")
	}

	existing, err := ec.Queries.ListUserBonuses(ctx, ec.TenantID, ec.User.ID)
	if err != nil {
		return err
	}
	for _, ub := range existing {
		if ub.Type != TypeTournament || ub.Status == StatusCancelled {
			continue
		}
		if prior, ok := ub.Metadata.GetString("tournamentId"); ok && prior == tournamentID {
			return NotEligible("Tournament bonus already claimed")
		}
	}
	return nil
}

// CalculateValue applies the template's position multiplier to the base
// value; positions without a multiplier pay nothing.
func (h *TournamentHandler) CalculateValue(ec *EvalContext) int64 {
	base := h.DefaultHandler.CalculateValue(ec)
	position, _ := ec.Metadata.GetInt64("position")
	return applyRankMultiplier(ec.Template, base, position)
}

// LeaderboardHandler pays rank-based awards once per (leaderboard, period).
type LeaderboardHandler struct {
	DefaultHandler
}

func (h *LeaderboardHandler) ValidateSpecific(ctx context.Context, ec *EvalContext) error {
	leaderboardID, ok := ec.Metadata.GetString("leaderboardId")
	if !ok || leaderboardID == "" {
		return NotEligible("leaderboardId missing")
	}
	period, ok := ec.Metadata.GetString("period")
	if !ok || period == "" {
		return NotEligible("period missing")
	}
	rank, ok := ec.Metadata.GetInt64("rank")
	if !ok || rank < 1 {
		return NotEligible("rank must be >= 1")
	}

	existing, err := ec.Queries.ListUserBonuses(ctx, ec.TenantID, ec.User.ID)
	if err != nil {
		return err
	}
	for _, ub := range existing {
		if ub.Type != TypeLeaderboard || ub.Status == StatusCancelled {
			continue
		}
		priorBoard, _ := ub.Metadata.GetString("leaderboardId")
		priorPeriod, _ := ub.Metadata.GetString("period")
		if priorBoard == leaderboardID && priorPeriod == period {
			return NotEligible("Leaderboard bonus already claimed for this period")
		}
	}
	return nil
}

func (h *LeaderboardHandler) CalculateValue(ec *EvalContext) int64 {
	base := h.DefaultHandler.CalculateValue(ec)
	rank, _ := ec.Metadata.GetInt64("rank")
	return applyRankMultiplier(ec.Template, base, rank)
}

// =============================================================================
// OTHER TYPED HANDLERS
// =============================================================================

// ReferralHandler awards the referrer when a referee qualifies. The referee
// relationship rides in the evaluation metadata.
type ReferralHandler struct {
	DefaultHandler
}

func (h *ReferralHandler) ValidateSpecific(_ context.Context, ec *EvalContext) error {
	refereeID, ok := ec.Metadata.GetString("refereeId")
	if !ok || refereeID == "" {
		return NotEligible("refereeId missing")
	}
	if refereeID == ec.User.ID {
		return NotEligible("self-referral")
	}
	return nil
}

func (h *ReferralHandler) BuildUserBonus(ec *EvalContext, value, turnover int64, expiresAt time.Time) *UserBonus {
	ub := h.DefaultHandler.BuildUserBonus(ec, value, turnover, expiresAt)
	ub.ReferrerID = ec.User.ID
	ub.RefereeID, _ = ec.Metadata.GetString("refereeId")
	return ub
}

// CustomHandler enforces only the per-user usage limit; everything else is
// template-driven.
type CustomHandler struct {
	DefaultHandler
}

func (h *CustomHandler) ValidateSpecific(ctx context.Context, ec *EvalContext) error {
	if ec.Template.MaxUsesPerUser <= 0 {
		return nil
	}
	uses, err := ec.Queries.CountUserBonusesByTemplate(ctx, ec.TenantID, ec.User.ID, ec.Template.ID)
	if err != nil {
		return err
	}
	if uses >= ec.Template.MaxUsesPerUser {
		return NotEligible("custom bonus usage limit reached")
	}
	return nil
}

// --- shared helpers ---

// rejectExistingOfTypes fails eligibility when the user already holds any
// non-cancelled bonus of the given types.
func rejectExistingOfTypes(ctx context.Context, ec *EvalContext, types ...Type) error {
	existing, err := ec.Queries.ListUserBonuses(ctx, ec.TenantID, ec.User.ID)
	if err != nil {
		return err
	}
	for _, ub := range existing {
		if ub.Status == StatusCancelled {
			continue
		}
		for _, t := range types {
			if ub.Type == t {
				return NotEligible("user already has a " + string(t) + " bonus")
			}
		}
	}
	return nil
}

// applyRankMultiplier scales a base value by the template's multiplier for
// a position or rank. Missing entries pay nothing.
func applyRankMultiplier(t *Template, base, rank int64) int64 {
	if len(t.PositionMultipliers) == 0 {
		return base
	}
	mult, ok := t.PositionMultipliers[strconv.FormatInt(rank, 10)]
	if !ok {
		return 0
	}
	return int64(float64(base) * mult)
}
