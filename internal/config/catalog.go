package config

import (
	"errors"
	"os"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/gosimple/slug"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Catalog describes the product sold through the checkout and the page the
// purchase is attributed to.
type Catalog struct {
	Product        Product
	EventSourceURL string
}

type Product struct {
	Name        string
	ID          string
	Category    string
	ContentType string
}

func DefaultCatalog() Catalog {
	return Catalog{
		Product: Product{
			Name:        "Menopause Sleep Recovery Guide",
			ID:          "menopause_guide",
			Category:    "digital_product",
			ContentType: "product",
		},
		EventSourceURL: "https://sacred-site.com/thank-you/",
	}
}

type CatalogHolder struct {
	current atomic.Value // holds Catalog
}

// NewCatalogHolder reads commerce.yml (when present) and keeps it fresh on disk changes.
func NewCatalogHolder(log *zap.Logger) (*CatalogHolder, error) {
	v := viper.New()

	if path := strings.TrimSpace(os.Getenv("ATTRIBUTION_COMMERCE_FILE")); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("commerce")
		v.SetConfigType("yml")
		v.AddConfigPath("/var/lib/attribution/config")
		v.AddConfigPath("/etc/attribution")
		v.AddConfigPath(".")
	}

	return newCatalogHolder(v, log, true)
}

func newCatalogHolder(v *viper.Viper, log *zap.Logger, watch bool) (*CatalogHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.catalog")

	defaults := DefaultCatalog()
	v.SetDefault("commerce.product.name", defaults.Product.Name)
	v.SetDefault("commerce.product.category", defaults.Product.Category)
	v.SetDefault("commerce.product.contentType", defaults.Product.ContentType)
	v.SetDefault("commerce.eventSourceUrl", defaults.EventSourceURL)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileLoaded = false
		v.SetDefault("commerce.product.id", defaults.Product.ID)
		log.Info("commerce catalog file not found, using defaults")
	}

	cfg, err := decodeCatalog(v)
	if err != nil {
		return nil, err
	}

	holder := &CatalogHolder{}
	holder.current.Store(cfg)

	if fileLoaded && watch {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			updated, err := decodeCatalog(v)
			if err != nil {
				log.Warn("commerce catalog reload rejected", zap.String("file", e.Name), zap.Error(err))
				return
			}
			holder.current.Store(updated)
			log.Info("commerce catalog reloaded", zap.String("file", e.Name))
		})
	}

	return holder, nil
}

func (h *CatalogHolder) Get() Catalog {
	if h == nil {
		return DefaultCatalog()
	}
	return h.current.Load().(Catalog)
}

func decodeCatalog(v *viper.Viper) (Catalog, error) {
	// Leaf lookups so defaults still apply to keys a partial file leaves out.
	cfg := Catalog{
		Product: Product{
			Name:        strings.TrimSpace(v.GetString("commerce.product.name")),
			ID:          strings.TrimSpace(v.GetString("commerce.product.id")),
			Category:    strings.TrimSpace(v.GetString("commerce.product.category")),
			ContentType: strings.TrimSpace(v.GetString("commerce.product.contentType")),
		},
		EventSourceURL: strings.TrimSpace(v.GetString("commerce.eventSourceUrl")),
	}
	if cfg.Product.ID == "" {
		cfg.Product.ID = productIDFromName(cfg.Product.Name)
	}
	if err := validateCatalog(cfg); err != nil {
		return Catalog{}, err
	}
	return cfg, nil
}

// productIDFromName keeps ids in the snake_case form analytics reports already use.
func productIDFromName(name string) string {
	return strings.ReplaceAll(slug.Make(name), "-", "_")
}

func validateCatalog(cfg Catalog) error {
	if cfg.Product.Name == "" {
		return errors.New("commerce.product.name cannot be empty")
	}
	if cfg.Product.ID == "" {
		return errors.New("commerce.product.id cannot be empty")
	}
	if strings.TrimSpace(cfg.EventSourceURL) == "" {
		return errors.New("commerce.eventSourceUrl cannot be empty")
	}
	return nil
}
