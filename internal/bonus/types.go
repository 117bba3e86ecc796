// Package bonus implements the template-driven incentive engine: typed
// handlers run the eligibility, calculation, and award pipeline, post awards
// through the ledger, and emit domain events.
package bonus

import (
	"time"

	"github.com/albion/platform/internal/platform/jsonval"
)

// Type enumerates the supported bonus templates. Each type maps to a
// registered handler; types without a specific handler run the shared
// default pipeline.
type Type string

const (
	TypeFirstDeposit     Type = "first_deposit"
	TypeWelcome          Type = "welcome"
	TypeReload           Type = "reload"
	TypeDepositMatch     Type = "deposit_match"
	TypeCashback         Type = "cashback"
	TypeRakeback         Type = "rakeback"
	TypeFreeSpins        Type = "free_spins"
	TypeFreeBet          Type = "free_bet"
	TypeReferral         Type = "referral"
	TypeReferee          Type = "referee"
	TypeLoyalty          Type = "loyalty"
	TypeVIP              Type = "vip"
	TypeBirthday         Type = "birthday"
	TypeAnniversary      Type = "anniversary"
	TypeTournament       Type = "tournament"
	TypeLeaderboard      Type = "leaderboard"
	TypeAchievement      Type = "achievement"
	TypeMilestone        Type = "milestone"
	TypeStreak           Type = "streak"
	TypeComeback         Type = "comeback"
	TypeDepositStreak    Type = "deposit_streak"
	TypeFirstPurchase    Type = "first_purchase"
	TypeFirstAction      Type = "first_action"
	TypePurchaseMatch    Type = "purchase_match"
	TypeLevelUp          Type = "level_up"
	TypeDailyLogin       Type = "daily_login"
	TypeWeeklyChallenge  Type = "weekly_challenge"
	TypeMonthlyChallenge Type = "monthly_challenge"
	TypeSeasonal         Type = "seasonal"
	TypePromoCode        Type = "promo_code"
	TypeManual           Type = "manual"
	TypeGoodwill         Type = "goodwill"
	TypeInsurance        Type = "insurance"
	TypeRiskFree         Type = "risk_free"
	TypeOddsBoost        Type = "odds_boost"
	TypeCustom           Type = "custom"
)

// ValueType determines how a template's value turns into an award amount.
type ValueType string

const (
	ValueFixed      ValueType = "fixed"
	ValuePercentage ValueType = "percentage"
	ValueMultiplier ValueType = "multiplier"
	ValueCredit     ValueType = "credit"
	ValuePoints     ValueType = "points"
)

// Eligibility bundles a template's common qualification rules.
type Eligibility struct {
	MinTier              int      `bson:"min_tier,omitempty" json:"minTier,omitempty"`
	Countries            []string `bson:"countries,omitempty" json:"countries,omitempty"`
	MinAge               int      `bson:"min_age,omitempty" json:"minAge,omitempty"`
	RequiresVerification bool     `bson:"requires_verification,omitempty" json:"requiresVerification,omitempty"`
}

// Template is a bonus definition. Codes are unique per tenant.
type Template struct {
	ID                    string             `bson:"_id" json:"id"`
	TenantID              string             `bson:"tenant_id" json:"tenantId"`
	Code                  string             `bson:"code" json:"code"`
	Name                  string             `bson:"name" json:"name"`
	Type                  Type               `bson:"type" json:"type"`
	Domain                string             `bson:"domain,omitempty" json:"domain,omitempty"`
	ValueType             ValueType          `bson:"value_type" json:"valueType"`
	Value                 int64              `bson:"value" json:"value"`
	Currency              string             `bson:"currency" json:"currency"`
	SupportedCurrencies   []string           `bson:"supported_currencies,omitempty" json:"supportedCurrencies,omitempty"`
	MaxValue              int64              `bson:"max_value,omitempty" json:"maxValue,omitempty"`
	MinDeposit            int64              `bson:"min_deposit,omitempty" json:"minDeposit,omitempty"`
	TurnoverMultiplier    int64              `bson:"turnover_multiplier" json:"turnoverMultiplier"`
	ActivityContributions map[string]int64   `bson:"activity_contributions,omitempty" json:"activityContributions,omitempty"`
	ExpirationDays        int                `bson:"expiration_days,omitempty" json:"expirationDays,omitempty"`
	ValidFrom             time.Time          `bson:"valid_from" json:"validFrom"`
	ValidUntil            time.Time          `bson:"valid_until" json:"validUntil"`
	MaxUsesTotal          int64              `bson:"max_uses_total,omitempty" json:"maxUsesTotal,omitempty"`
	MaxUsesPerUser        int64              `bson:"max_uses_per_user,omitempty" json:"maxUsesPerUser,omitempty"`
	CurrentUsesTotal      int64              `bson:"current_uses_total" json:"currentUsesTotal"`
	Eligibility           Eligibility        `bson:"eligibility,omitempty" json:"eligibility,omitempty"`
	Stackable             bool               `bson:"stackable" json:"stackable"`
	ExcludedBonusTypes    []Type             `bson:"excluded_bonus_types,omitempty" json:"excludedBonusTypes,omitempty"`
	RequiresApproval      bool               `bson:"requires_approval,omitempty" json:"requiresApproval,omitempty"`
	ApprovalThreshold     int64              `bson:"approval_threshold,omitempty" json:"approvalThreshold,omitempty"`
	Priority              int                `bson:"priority" json:"priority"`
	IsActive              bool               `bson:"is_active" json:"isActive"`
	CooldownHours         int                `bson:"cooldown_hours,omitempty" json:"cooldownHours,omitempty"`
	PositionMultipliers   map[string]float64 `bson:"position_multipliers,omitempty" json:"positionMultipliers,omitempty"`
	ReferralConfig        jsonval.Map        `bson:"referral_config,omitempty" json:"referralConfig,omitempty"`
	TypeSpecific          jsonval.Map        `bson:"type_specific,omitempty" json:"typeSpecific,omitempty"`
	CreatedAt             time.Time          `bson:"created_at" json:"createdAt"`
	UpdatedAt             time.Time          `bson:"updated_at" json:"updatedAt"`
}

// ActiveAt reports whether the template is live at the given instant.
func (t *Template) ActiveAt(now time.Time) bool {
	if !t.IsActive {
		return false
	}
	if !t.ValidFrom.IsZero() && now.Before(t.ValidFrom) {
		return false
	}
	if !t.ValidUntil.IsZero() && now.After(t.ValidUntil) {
		return false
	}
	return true
}

// SupportsCurrency checks the template's currency list; an empty list means
// only the template's own currency qualifies.
func (t *Template) SupportsCurrency(currency string) bool {
	if currency == t.Currency {
		return true
	}
	for _, c := range t.SupportedCurrencies {
		if c == currency {
			return true
		}
	}
	return false
}

// Status enumerates the user-bonus lifecycle.
type Status string

const (
	StatusPending         Status = "pending"
	StatusActive          Status = "active"
	StatusInProgress      Status = "in_progress"
	StatusRequirementsMet Status = "requirements_met"
	StatusConverted       Status = "converted"
	StatusClaimed         Status = "claimed"
	StatusForfeited       Status = "forfeited"
	StatusExpired         Status = "expired"
	StatusCancelled       Status = "cancelled"
	StatusLocked          Status = "locked"
)

// HistoryEntry records one status transition on a user bonus.
type HistoryEntry struct {
	Status    Status    `bson:"status" json:"status"`
	Reason    string    `bson:"reason,omitempty" json:"reason,omitempty"`
	Actor     string    `bson:"actor,omitempty" json:"actor,omitempty"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
}

// UserBonus is one awarded (or awaiting) bonus instance.
type UserBonus struct {
	ID                   string         `bson:"_id" json:"id"`
	UserID               string         `bson:"user_id" json:"userId"`
	TenantID             string         `bson:"tenant_id" json:"tenantId"`
	TemplateID           string         `bson:"template_id" json:"templateId"`
	TemplateCode         string         `bson:"template_code" json:"templateCode"`
	Type                 Type           `bson:"type" json:"type"`
	Domain               string         `bson:"domain,omitempty" json:"domain,omitempty"`
	Status               Status         `bson:"status" json:"status"`
	LockedFrom           Status         `bson:"locked_from,omitempty" json:"lockedFrom,omitempty"`
	Currency             string         `bson:"currency" json:"currency"`
	OriginalValue        int64          `bson:"original_value" json:"originalValue"`
	CurrentValue         int64          `bson:"current_value" json:"currentValue"`
	TurnoverRequired     int64          `bson:"turnover_required" json:"turnoverRequired"`
	TurnoverProgress     int64          `bson:"turnover_progress" json:"turnoverProgress"`
	WalletID             string         `bson:"wallet_id,omitempty" json:"walletId,omitempty"`
	TriggerTransactionID string         `bson:"trigger_transaction_id,omitempty" json:"triggerTransactionId,omitempty"`
	ReferrerID           string         `bson:"referrer_id,omitempty" json:"referrerId,omitempty"`
	RefereeID            string         `bson:"referee_id,omitempty" json:"refereeId,omitempty"`
	Metadata             jsonval.Map    `bson:"metadata,omitempty" json:"metadata,omitempty"`
	QualifiedAt          time.Time      `bson:"qualified_at" json:"qualifiedAt"`
	ClaimedAt            *time.Time     `bson:"claimed_at,omitempty" json:"claimedAt,omitempty"`
	ActivatedAt          *time.Time     `bson:"activated_at,omitempty" json:"activatedAt,omitempty"`
	CompletedAt          *time.Time     `bson:"completed_at,omitempty" json:"completedAt,omitempty"`
	ConvertedAt          *time.Time     `bson:"converted_at,omitempty" json:"convertedAt,omitempty"`
	ForfeitedAt          *time.Time     `bson:"forfeited_at,omitempty" json:"forfeitedAt,omitempty"`
	ExpiresAt            time.Time      `bson:"expires_at" json:"expiresAt"`
	History              []HistoryEntry `bson:"history" json:"history"`
}

// TransactionType enumerates bonus sub-ledger movements.
type TransactionType string

const (
	TxCredit     TransactionType = "credit"
	TxDebit      TransactionType = "debit"
	TxTurnover   TransactionType = "turnover"
	TxConversion TransactionType = "conversion"
	TxForfeit    TransactionType = "forfeit"
	TxAdjustment TransactionType = "adjustment"
)

// Transaction is the audit record for every bonus balance or turnover
// movement.
type Transaction struct {
	ID                   string          `bson:"_id" json:"id"`
	UserBonusID          string          `bson:"user_bonus_id" json:"userBonusId"`
	UserID               string          `bson:"user_id" json:"userId"`
	TenantID             string          `bson:"tenant_id" json:"tenantId"`
	Type                 TransactionType `bson:"type" json:"type"`
	Amount               int64           `bson:"amount" json:"amount"`
	BalanceBefore        int64           `bson:"balance_before" json:"balanceBefore"`
	BalanceAfter         int64           `bson:"balance_after" json:"balanceAfter"`
	TurnoverBefore       int64           `bson:"turnover_before,omitempty" json:"turnoverBefore,omitempty"`
	TurnoverAfter        int64           `bson:"turnover_after,omitempty" json:"turnoverAfter,omitempty"`
	TurnoverContribution int64           `bson:"turnover_contribution,omitempty" json:"turnoverContribution,omitempty"`
	ActivityCategory     string          `bson:"activity_category,omitempty" json:"activityCategory,omitempty"`
	RelatedTransactionID string          `bson:"related_transaction_id,omitempty" json:"relatedTransactionId,omitempty"`
	CreatedAt            time.Time       `bson:"created_at" json:"createdAt"`
}
