package shops

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/aerochat/shopsync/internal/content"
)

const (
	// StatusActive marks a shop whose content is synchronized.
	StatusActive = "active"
	// StatusInactive marks an uninstalled or suspended shop.
	StatusInactive = "inactive"

	myshopifySuffix = ".myshopify.com"
)

var shopDomainPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*\.myshopify\.com$`)

// Shop is an installed store and the credential used to read its content.
type Shop struct {
	ShopDomain           string    `gorm:"column:shop_domain;primaryKey;size:255;not null"`
	ShopID               string    `gorm:"column:shop_id;size:100;not null;default:''"`
	ShopName             string    `gorm:"column:shop_name;size:255;not null;default:''"`
	Email                string    `gorm:"column:email;size:255;not null;default:''"`
	AccessToken          string    `gorm:"column:access_token;type:text;not null;default:''"`
	StoreURL             string    `gorm:"column:store_url;size:255;not null;default:''"`
	CompanyID            string    `gorm:"column:company_id;size:100;not null;default:''"`
	Status               string    `gorm:"column:status;size:50;not null;default:'active';index"`
	InitialSyncCompleted bool      `gorm:"column:initial_sync_completed;not null;default:false"`
	CreatedAt            time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing installed shops.
func (Shop) TableName() string {
	return "shops"
}

// NormalizeShopDomain lowercases the domain, strips scheme and path, and appends
// .myshopify.com to bare store handles.
func NormalizeShopDomain(raw string) (string, error) {
	candidate := strings.ToLower(strings.TrimSpace(raw))
	if candidate == "" {
		return "", content.ErrInvalidShopDomain
	}
	if strings.Contains(candidate, "://") {
		parsed, err := url.Parse(candidate)
		if err != nil {
			return "", fmt.Errorf("%w: %q", content.ErrInvalidShopDomain, raw)
		}
		candidate = parsed.Host
	}
	if index := strings.IndexByte(candidate, '/'); index >= 0 {
		candidate = candidate[:index]
	}
	if !strings.Contains(candidate, ".") {
		candidate += myshopifySuffix
	}
	if !shopDomainPattern.MatchString(candidate) {
		return "", fmt.Errorf("%w: %q", content.ErrInvalidShopDomain, raw)
	}
	return candidate, nil
}

// storeURL is the store handle the chat service knows the shop by.
func storeURL(shopDomain string) string {
	return strings.TrimSuffix(shopDomain, myshopifySuffix)
}
