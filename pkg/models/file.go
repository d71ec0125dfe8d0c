// Package models defines the records fstorage persists and returns.
//
// A [StoredFile] is one uploaded object. Its Key is the object key in the
// bucket and doubles as the public file id: clients receive it from the
// upload endpoint and send it back to the batch delete endpoint.
//
// Keys have the form
//
//	<domain>/<uuid><ext>
//
// where domain is a caller-chosen namespace ("avatars", "invoices") and ext
// is the lowercased extension of the original file name.
package models

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

const (
	// MaxDomainLength bounds the domain segment of an object key.
	MaxDomainLength = 64

	// MaxNameLength bounds the original file name kept in the catalog.
	MaxNameLength = 255

	// maxExtLength drops extensions longer than this from generated keys.
	maxExtLength = 16
)

// StoredFile is the catalog record for one uploaded object.
type StoredFile struct {
	// ID is the catalog row id.
	ID uuid.UUID `json:"-" db:"id"`

	// Key is the object key, also exposed to clients as the file id.
	Key string `json:"id" db:"key"`

	// Name is the file name the client uploaded.
	Name string `json:"name" db:"name"`

	// URL is where the object can be downloaded.
	URL string `json:"url" db:"url"`

	Domain      string    `json:"domain" db:"domain"`
	OwnerID     string    `json:"owner_id" db:"owner_id"`
	Size        int64     `json:"size" db:"size"`
	ContentType string    `json:"content_type,omitempty" db:"content_type"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// UploadedFile is the view of a StoredFile returned by the upload endpoint.
type UploadedFile struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// NewStoredFile builds a record with a fresh id and object key. URL is left
// for the caller, which knows the bucket's public address.
func NewStoredFile(ownerID, domain, name, contentType string, size int64) (*StoredFile, error) {
	f := &StoredFile{
		ID:          uuid.New(),
		Name:        name,
		Domain:      domain,
		OwnerID:     ownerID,
		Size:        size,
		ContentType: contentType,
		CreatedAt:   time.Now().UTC(),
	}
	f.Key = ObjectKey(domain, f.ID, name)
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// ObjectKey returns <domain>/<id><ext> for a file called name.
func ObjectKey(domain string, id uuid.UUID, name string) string {
	return domain + "/" + id.String() + extension(name)
}

func extension(name string) string {
	ext := strings.ToLower(path.Ext(name))
	if len(ext) < 2 || len(ext) > maxExtLength {
		return ""
	}
	for _, r := range ext[1:] {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return ""
		}
	}
	return ext
}

// Upload returns the wire view.
func (f *StoredFile) Upload() UploadedFile {
	return UploadedFile{ID: f.Key, Name: f.Name, URL: f.URL}
}

// Validate checks required fields and key shape.
func (f *StoredFile) Validate() error {
	if f.ID == uuid.Nil {
		return errors.New("models: file id is required")
	}
	if f.OwnerID == "" {
		return errors.New("models: file owner is required")
	}
	if err := ValidateDomain(f.Domain); err != nil {
		return err
	}
	if f.Name == "" {
		return errors.New("models: file name is required")
	}
	if len(f.Name) > MaxNameLength {
		return fmt.Errorf("models: file name exceeds %d bytes", MaxNameLength)
	}
	if f.Size < 0 {
		return fmt.Errorf("models: file size must not be negative, got %d", f.Size)
	}
	if !strings.HasPrefix(f.Key, f.Domain+"/") {
		return fmt.Errorf("models: file key %q is outside domain %q", f.Key, f.Domain)
	}
	if f.CreatedAt.IsZero() {
		return errors.New("models: file created_at is required")
	}
	return nil
}

// ValidateDomain rejects domains that are empty, too long, or would escape
// their key prefix.
func ValidateDomain(domain string) error {
	switch {
	case domain == "":
		return errors.New("models: domain is required")
	case len(domain) > MaxDomainLength:
		return fmt.Errorf("models: domain exceeds %d bytes", MaxDomainLength)
	case strings.Contains(domain, "/"), strings.Contains(domain, ".."):
		return fmt.Errorf("models: domain %q must not contain '/' or '..'", domain)
	case strings.IndexFunc(domain, unicode.IsSpace) >= 0:
		return fmt.Errorf("models: domain %q must not contain whitespace", domain)
	}
	return nil
}
