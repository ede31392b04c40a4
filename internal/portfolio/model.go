package portfolio

import (
	"errors"
	"fmt"
	"strings"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidPortfolioID indicates that a portfolio identifier is empty or exceeds storage bounds.
	ErrInvalidPortfolioID = errors.New("portfolio: invalid portfolio id")
	// ErrInvalidOwnerID indicates that an owner identifier is empty or exceeds storage bounds.
	ErrInvalidOwnerID = errors.New("portfolio: invalid owner id")
	// ErrInvalidBaselineVersion indicates that a client-declared baseline version is not positive.
	ErrInvalidBaselineVersion = errors.New("portfolio: invalid baseline version")
)

// PortfolioID represents a validated portfolio identifier.
type PortfolioID string

// NewPortfolioID validates raw input and returns a PortfolioID.
func NewPortfolioID(rawInput string) (PortfolioID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPortfolioID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidPortfolioID, maxIdentifierLength)
	}
	return PortfolioID(trimmed), nil
}

// String returns the underlying string identifier.
func (id PortfolioID) String() string {
	return string(id)
}

// OwnerID represents a validated owner identifier.
type OwnerID string

// NewOwnerID validates raw input and returns an OwnerID.
func NewOwnerID(rawInput string) (OwnerID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidOwnerID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidOwnerID, maxIdentifierLength)
	}
	return OwnerID(trimmed), nil
}

// String returns the underlying string identifier.
func (id OwnerID) String() string {
	return string(id)
}

// BaselineVersion represents a validated client-declared document version.
type BaselineVersion int64

// NewBaselineVersion validates the value and returns a BaselineVersion.
func NewBaselineVersion(value int64) (BaselineVersion, error) {
	if value <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidBaselineVersion, value)
	}
	return BaselineVersion(value), nil
}

// Int64 exposes the raw version value.
func (v BaselineVersion) Int64() int64 {
	return int64(v)
}

// Portfolio models the persisted document with its optimistic-concurrency version.
// The version column is incremented exclusively by the store on every
// successful content write; readers only compare it.
type Portfolio struct {
	PortfolioID      string `gorm:"column:portfolio_id;primaryKey;size:190;not null"`
	OwnerID          string `gorm:"column:owner_id;size:190;not null;index:idx_portfolios_owner"`
	Title            string `gorm:"column:title;size:320;not null;default:''"`
	BlocksJSON       string `gorm:"column:blocks_json;type:text;not null;default:'[]'"`
	LayoutJSON       string `gorm:"column:layout_json;type:text;not null;default:'{}'"`
	ThemeJSON        string `gorm:"column:theme_json;type:text;not null;default:'{}'"`
	SEOJSON          string `gorm:"column:seo_json;type:text;not null;default:'{}'"`
	Version          int64  `gorm:"column:version;not null;default:1"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Portfolio) TableName() string {
	return "portfolios"
}

// Block is a single ordered content unit within a portfolio document.
type Block struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Order   int            `json:"order"`
	Content map[string]any `json:"content,omitempty"`
}

// Snapshot is the decoded read model handed to callers. It carries the
// version observed at read time so writers can use it as a baseline.
type Snapshot struct {
	PortfolioID      string         `json:"id"`
	OwnerID          string         `json:"ownerId"`
	Title            string         `json:"title"`
	Blocks           []Block        `json:"blocks"`
	Layout           map[string]any `json:"layout"`
	Theme            map[string]any `json:"theme"`
	SEO              map[string]any `json:"seo"`
	Version          int64          `json:"version"`
	UpdatedAtSeconds int64          `json:"updatedAtS"`
}
