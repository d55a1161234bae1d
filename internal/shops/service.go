// Package shops keeps installed shops, their Admin API credentials and their chat service company.
package shops

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aerochat/shopsync/internal/content"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrShopNotFound indicates no shop is registered for the domain.
	ErrShopNotFound = errors.New("shops: shop not found")
	// ErrCompanyUnavailable indicates the company id could not be resolved.
	ErrCompanyUnavailable = errors.New("shops: company id unavailable")
)

// CompanyResolver looks up the chat service company for a shop.
type CompanyResolver interface {
	LookupCompanyID(ctx context.Context, shopDomain string) (string, error)
}

// ServiceConfig describes the dependencies of the shop registry.
type ServiceConfig struct {
	Database  *gorm.DB
	Companies CompanyResolver
	Clock     func() time.Time
	Logger    *zap.Logger
}

// Registration carries the shop fields captured at install time. Empty values leave stored fields untouched.
type Registration struct {
	ShopDomain  string
	AccessToken string
	ShopID      string
	ShopName    string
	Email       string
	CompanyID   string
}

// Service is the shop registry. It satisfies content.ShopDirectory and content.InitialSyncTracker.
type Service struct {
	db        *gorm.DB
	companies CompanyResolver
	now       func() time.Time
	logger    *zap.Logger
	cache     sync.Map
}

// NewService constructs the shop registry.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("shops: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:        cfg.Database,
		companies: cfg.Companies,
		now:       clock,
		logger:    logger,
		cache:     sync.Map{},
	}, nil
}

// Register creates the shop or updates it with the non-empty registration fields.
func (s *Service) Register(ctx context.Context, registration Registration) (Shop, error) {
	shopDomain, err := NormalizeShopDomain(registration.ShopDomain)
	if err != nil {
		return Shop{}, err
	}

	var shop Shop
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lookupErr := tx.Where("shop_domain = ?", shopDomain).First(&shop).Error
		if errors.Is(lookupErr, gorm.ErrRecordNotFound) {
			shop = Shop{
				ShopDomain: shopDomain,
				StoreURL:   storeURL(shopDomain),
				Status:     StatusActive,
			}
			applyRegistration(&shop, registration)
			return tx.Create(&shop).Error
		}
		if lookupErr != nil {
			return lookupErr
		}
		applyRegistration(&shop, registration)
		shop.Status = StatusActive
		shop.UpdatedAt = s.now()
		return tx.Save(&shop).Error
	})
	if err != nil {
		return Shop{}, err
	}
	if shop.CompanyID != "" {
		s.cache.Store(shopDomain, shop.CompanyID)
	}
	s.logger.Info("shop registered", zap.String("shop_domain", shopDomain))
	return shop, nil
}

// Get returns the stored shop.
func (s *Service) Get(ctx context.Context, shopDomain string) (Shop, error) {
	var shop Shop
	err := s.db.WithContext(ctx).Where("shop_domain = ?", shopDomain).First(&shop).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Shop{}, ErrShopNotFound
	}
	if err != nil {
		return Shop{}, err
	}
	return shop, nil
}

// Credential returns the Admin API token for the shop.
func (s *Service) Credential(ctx context.Context, shopDomain string) (content.Credential, error) {
	shop, err := s.Get(ctx, shopDomain)
	if errors.Is(err, ErrShopNotFound) {
		return content.Credential{}, content.ErrMissingCredential
	}
	if err != nil {
		return content.Credential{}, err
	}
	token := strings.TrimSpace(shop.AccessToken)
	if token == "" || shop.Status != StatusActive {
		return content.Credential{}, content.ErrMissingCredential
	}
	return content.Credential{ShopDomain: shop.ShopDomain, AccessToken: token}, nil
}

// CompanyID returns the stored company id, resolving and persisting it through the chat service when missing.
func (s *Service) CompanyID(ctx context.Context, shopDomain string) (string, error) {
	if cached, ok := s.cache.Load(shopDomain); ok {
		if companyID, ok := cached.(string); ok {
			return companyID, nil
		}
	}

	shop, err := s.Get(ctx, shopDomain)
	if err != nil {
		return "", err
	}
	if shop.CompanyID != "" {
		s.cache.Store(shopDomain, shop.CompanyID)
		return shop.CompanyID, nil
	}
	if s.companies == nil {
		return "", ErrCompanyUnavailable
	}

	companyID, err := s.companies.LookupCompanyID(ctx, shopDomain)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCompanyUnavailable, err)
	}
	if err := s.db.WithContext(ctx).
		Model(&Shop{}).
		Where("shop_domain = ?", shopDomain).
		Updates(map[string]any{"company_id": companyID, "updated_at": s.now()}).Error; err != nil {
		s.logger.Warn("company id resolved but not persisted", zap.String("shop_domain", shopDomain), zap.Error(err))
	}
	s.cache.Store(shopDomain, companyID)
	return companyID, nil
}

// InitialSyncCompleted reports whether the first-run sync already happened.
func (s *Service) InitialSyncCompleted(ctx context.Context, shopDomain string) (bool, error) {
	shop, err := s.Get(ctx, shopDomain)
	if errors.Is(err, ErrShopNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return shop.InitialSyncCompleted, nil
}

// MarkInitialSyncCompleted persists the first-run flag.
func (s *Service) MarkInitialSyncCompleted(ctx context.Context, shopDomain string) error {
	result := s.db.WithContext(ctx).
		Model(&Shop{}).
		Where("shop_domain = ?", shopDomain).
		Updates(map[string]any{"initial_sync_completed": true, "updated_at": s.now()})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrShopNotFound
	}
	return nil
}

// ListActive returns the domains of active shops holding a credential, in domain order.
func (s *Service) ListActive(ctx context.Context) ([]string, error) {
	var domains []string
	err := s.db.WithContext(ctx).
		Model(&Shop{}).
		Where("status = ? AND access_token <> ''", StatusActive).
		Order("shop_domain").
		Pluck("shop_domain", &domains).Error
	return domains, err
}

// Deactivate stops synchronization for a shop and drops its token.
func (s *Service) Deactivate(ctx context.Context, shopDomain string) error {
	result := s.db.WithContext(ctx).
		Model(&Shop{}).
		Where("shop_domain = ?", shopDomain).
		Updates(map[string]any{"status": StatusInactive, "access_token": "", "updated_at": s.now()})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrShopNotFound
	}
	s.cache.Delete(shopDomain)
	return nil
}

func applyRegistration(shop *Shop, registration Registration) {
	if value := strings.TrimSpace(registration.AccessToken); value != "" {
		shop.AccessToken = value
	}
	if value := strings.TrimSpace(registration.ShopID); value != "" {
		shop.ShopID = value
	}
	if value := strings.TrimSpace(registration.ShopName); value != "" {
		shop.ShopName = value
	}
	if value := strings.TrimSpace(registration.Email); value != "" {
		shop.Email = value
	}
	if value := strings.TrimSpace(registration.CompanyID); value != "" {
		shop.CompanyID = value
	}
}
