package bonus

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/albion/platform/internal/identity"
	"github.com/albion/platform/internal/platform/jsonval"
)

// NotEligibleError reports why a user does not qualify. It is an expected
// outcome, not a fault: the engine converts it into a skipped evaluation.
type NotEligibleError struct {
	Reason string
}

func (e *NotEligibleError) Error() string { return "not eligible: " + e.Reason }

// NotEligible builds a NotEligibleError.
func NotEligible(reason string) error { return &NotEligibleError{Reason: reason} }

// Queries is the read access handlers get for type-specific validation.
type Queries interface {
	CountUserBonusesByTemplate(ctx context.Context, tenantID, userID, templateID string) (int64, error)
	ListUserBonuses(ctx context.Context, tenantID, userID string) ([]*UserBonus, error)
}

// EvalContext carries one evaluation through the pipeline. Metadata holds
// the trigger's type-specific inputs (tournament id, position, promo code).
type EvalContext struct {
	TenantID             string
	User                 *identity.User
	Template             *Template
	Currency             string
	DepositAmount        int64
	TriggerTransactionID string
	WalletID             string
	Metadata             jsonval.Map
	Now                  time.Time
	Queries              Queries
}

// Handler is the per-type capability set. DefaultHandler carries the shared
// behavior; specific types override individual hooks by embedding it.
type Handler interface {
	ValidateSpecific(ctx context.Context, ec *EvalContext) error
	CalculateValue(ec *EvalContext) int64
	CalculateTurnover(ec *EvalContext, value int64) int64
	CalculateExpiration(ec *EvalContext) time.Time
	BuildUserBonus(ec *EvalContext, value, turnover int64, expiresAt time.Time) *UserBonus
	OnAwarded(ctx context.Context, ec *EvalContext, ub *UserBonus) error
}

// DefaultHandler implements the shared template-method behavior used by
// every type that needs nothing special.
type DefaultHandler struct{}

// ValidateSpecific passes: common validation already ran in the engine.
func (DefaultHandler) ValidateSpecific(context.Context, *EvalContext) error { return nil }

// CalculateValue applies the template's value type. Percentage and
// multiplier results are capped by maxValue.
func (DefaultHandler) CalculateValue(ec *EvalContext) int64 {
	t := ec.Template
	var value int64
	switch t.ValueType {
	case ValuePercentage:
		value = ec.DepositAmount * t.Value / 100
	case ValueMultiplier:
		value = ec.DepositAmount * t.Value
	default: // fixed, credit, points
		return t.Value
	}
	if t.MaxValue > 0 && value > t.MaxValue {
		value = t.MaxValue
	}
	return value
}

// CalculateTurnover is bonus value times the template multiplier.
func (DefaultHandler) CalculateTurnover(ec *EvalContext, value int64) int64 {
	return value * ec.Template.TurnoverMultiplier
}

// CalculateExpiration is now plus the template's expiration days (30 when
// unset).
func (DefaultHandler) CalculateExpiration(ec *EvalContext) time.Time {
	days := ec.Template.ExpirationDays
	if days <= 0 {
		days = 30
	}
	return ec.Now.Add(time.Duration(days) * 24 * time.Hour)
}

// BuildUserBonus assembles the instance in its awarded shape.
func (DefaultHandler) BuildUserBonus(ec *EvalContext, value, turnover int64, expiresAt time.Time) *UserBonus {
	now := ec.Now
	return &UserBonus{
		ID:                   uuid.New().String(),
		UserID:               ec.User.ID,
		TenantID:             ec.TenantID,
		TemplateID:           ec.Template.ID,
		TemplateCode:         ec.Template.Code,
		Type:                 ec.Template.Type,
		Domain:               ec.Template.Domain,
		Status:               StatusPending,
		Currency:             ec.Template.Currency,
		OriginalValue:        value,
		CurrentValue:         value,
		TurnoverRequired:     turnover,
		WalletID:             ec.WalletID,
		TriggerTransactionID: ec.TriggerTransactionID,
		Metadata:             ec.Metadata.Clone(),
		QualifiedAt:          now,
		ExpiresAt:            expiresAt,
	}
}

// OnAwarded is a no-op by default.
func (DefaultHandler) OnAwarded(context.Context, *EvalContext, *UserBonus) error { return nil }

// =============================================================================
// REGISTRY
// =============================================================================

// Registry maps bonus types to handlers. It is built once during
// initialization; lookups never mutate it.
type Registry struct {
	handlers map[Type]Handler
	fallback Handler
}

// NewRegistry creates a registry with the default handler as fallback.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[Type]Handler),
		fallback: DefaultHandler{},
	}
}

// Register binds a handler to a type. Later registrations replace earlier
// ones, which lets deployments override stock handlers.
func (r *Registry) Register(typ Type, h Handler) {
	r.handlers[typ] = h
}

// Resolve returns the handler for a type, falling back to the shared
// default.
func (r *Registry) Resolve(typ Type) Handler {
	if h, ok := r.handlers[typ]; ok {
		return h
	}
	return r.fallback
}

// RegisterStockHandlers installs the platform's built-in typed handlers.
func RegisterStockHandlers(r *Registry) {
	r.Register(TypeFirstDeposit, &FirstDepositHandler{})
	r.Register(TypeWelcome, &WelcomeHandler{})
	r.Register(TypeReload, &ReloadHandler{})
	r.Register(TypeFirstPurchase, &FirstActionHandler{Flag: identity.MetaHasMadeFirstPurchase, Kind: TypeFirstPurchase})
	r.Register(TypeFirstAction, &FirstActionHandler{Flag: "hasMadeFirstAction", Kind: TypeFirstAction})
	r.Register(TypeTournament, &TournamentHandler{})
	r.Register(TypeLeaderboard, &LeaderboardHandler{})
	r.Register(TypeReferral, &ReferralHandler{})
	r.Register(TypeCustom, &CustomHandler{})
}
