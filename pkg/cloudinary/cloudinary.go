package cloudinary

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/cloudinary/cloudinary-go/v2/api/admin"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-action-engine/internal/actions"
)

const (
	fileResourceType     = "raw"
	destroyResultOK      = "ok"
	destroyResultMissing = "not found"
)

// Config contains credentials required to talk to Cloudinary.
type Config struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
}

// Service stores moved files and generated documents in Cloudinary. It
// implements actions.FileStore and actions.DocumentStore.
type Service struct {
	client *cloudinary.Cloudinary
	folder string
	logger zerolog.Logger
}

var (
	_ actions.FileStore     = (*Service)(nil)
	_ actions.DocumentStore = (*Service)(nil)
)

// New constructs a Cloudinary service instance.
func New(cfg Config, logger zerolog.Logger) (*Service, error) {
	if cfg.CloudName == "" || cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("cloudinary credentials must be provided")
	}

	cld, err := cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cloudinary: %w", err)
	}

	return &Service{
		client: cld,
		folder: strings.Trim(cfg.Folder, "/"),
		logger: logger.With().Str("component", "cloudinary").Logger(),
	}, nil
}

// Move renames the asset at source to destination.
func (s *Service) Move(ctx context.Context, source, destination string) error {
	from := s.publicID(source)
	to := s.publicID(destination)

	_, err := s.client.Upload.Rename(ctx, uploader.RenameParams{
		FromPublicID: from,
		ToPublicID:   to,
		ResourceType: fileResourceType,
		Overwrite:    api.Bool(false),
	})
	if err != nil {
		return fmt.Errorf("failed to rename asset %s: %w", from, err)
	}

	s.logger.Info().Str("from", from).Str("to", to).Msg("asset moved")
	return nil
}

// Copy re-uploads the asset at source under destination.
func (s *Service) Copy(ctx context.Context, source, destination string) error {
	from := s.publicID(source)
	to := s.publicID(destination)

	asset, err := s.client.Admin.Asset(ctx, admin.AssetParams{
		PublicID:  from,
		AssetType: api.AssetType(fileResourceType),
	})
	if err != nil {
		return fmt.Errorf("failed to look up asset %s: %w", from, err)
	}
	if asset.SecureURL == "" {
		return fmt.Errorf("asset %s not found", from)
	}

	if _, err := s.client.Upload.Upload(ctx, asset.SecureURL, uploader.UploadParams{
		PublicID:     to,
		ResourceType: fileResourceType,
		Overwrite:    api.Bool(false),
	}); err != nil {
		return fmt.Errorf("failed to copy asset %s: %w", from, err)
	}

	s.logger.Info().Str("from", from).Str("to", to).Msg("asset copied")
	return nil
}

// Create uploads the document body as a raw asset.
func (s *Service) Create(ctx context.Context, doc actions.DocumentPayload, contentType string) (actions.StoredDocument, error) {
	params := uploader.UploadParams{
		Folder:       s.folder,
		PublicID:     buildPublicID(doc.Title),
		ResourceType: fileResourceType,
		Tags:         []string{"document", doc.Format},
	}

	result, err := s.client.Upload.Upload(ctx, strings.NewReader(doc.Content), params)
	if err != nil {
		return actions.StoredDocument{}, fmt.Errorf("failed to upload document: %w", err)
	}

	s.logger.Info().
		Str("public_id", result.PublicID).
		Str("content_type", contentType).
		Msg("document uploaded to cloudinary")

	return actions.StoredDocument{ID: result.PublicID, URL: result.SecureURL}, nil
}

// Delete destroys a previously created document. Missing documents are not an error.
func (s *Service) Delete(ctx context.Context, documentID string) error {
	result, err := s.client.Upload.Destroy(ctx, uploader.DestroyParams{
		PublicID:     documentID,
		ResourceType: fileResourceType,
	})
	if err != nil {
		return fmt.Errorf("failed to delete document %s: %w", documentID, err)
	}

	switch result.Result {
	case destroyResultOK, destroyResultMissing:
		return nil
	default:
		return fmt.Errorf("failed to delete document %s: %s", documentID, result.Result)
	}
}

func (s *Service) publicID(p string) string {
	p = strings.Trim(p, "/")
	if s.folder == "" || strings.HasPrefix(p, s.folder+"/") {
		return p
	}
	return path.Join(s.folder, p)
}

func buildPublicID(name string) string {
	base := strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '-'
	}, name)

	base = strings.Trim(base, "-")
	if base == "" {
		base = "document"
	}

	return fmt.Sprintf("%s-%d", base, time.Now().Unix())
}
