package secrets

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"github.com/tobischo/gokeepasslib/v3"
	"github.com/tobischo/gokeepasslib/v3/wrappers"

	"github.com/snapp-incubator/s3-manager/api/v1alpha1"
	"github.com/snapp-incubator/s3-manager/internal/apierror"
)

const (
	keepassTitleKey    = "Title"
	keepassUserNameKey = "UserName"
	keepassPasswordKey = "Password"
)

type KeepassOptions struct {
	Bucket   string
	Key      string
	Password string
	// GroupPath is the group holding the entries, relative to the root group.
	GroupPath []string
}

// KeepassBackend keeps credentials in a KeePass database stored as an object. Entries are
// matched by title; the access key is the user name and the secret key the password.
type KeepassBackend struct {
	store       ObjectStore
	opts        KeepassOptions
	stagingPath string
	db          *gokeepasslib.Database
	group       *gokeepasslib.Group
	dirty       bool
	closed      bool
	logger      logr.Logger

	// pending is the encoded database waiting to be uploaded. It is only set while an upload failed.
	pending []byte
}

var _ Backend = &KeepassBackend{}

// OpenKeepass downloads the database into a local staging file and unlocks it.
// The staging file is removed again if opening fails.
func OpenKeepass(ctx context.Context, store ObjectStore, opts KeepassOptions, logger logr.Logger) (*KeepassBackend, error) {
	if opts.Password == "" {
		return nil, apierror.New(apierror.KindStructuralConfig, "keepass_password is required for the keepass secret backend")
	}

	exists, err := store.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, apierror.Wrap(apierror.KindConnectivity, apierror.Classify(err),
			"failed to reach secret backend bucket "+opts.Bucket)
	}
	if !exists {
		return nil, apierror.New(apierror.KindStructuralConfig, "secret backend bucket %s does not exist", opts.Bucket)
	}

	data, err := store.GetObject(ctx, opts.Bucket, opts.Key)
	if err != nil {
		return nil, apierror.Wrap(apierror.KindConnectivity, apierror.Classify(err),
			fmt.Sprintf("failed to download %s from bucket %s", opts.Key, opts.Bucket))
	}

	staging, err := os.CreateTemp("", "s3-manager-*.kdbx")
	if err != nil {
		return nil, err
	}
	b := &KeepassBackend{
		store:       store,
		opts:        opts,
		stagingPath: staging.Name(),
		logger:      logger,
	}
	if _, err := staging.Write(data); err != nil {
		_ = staging.Close()
		b.removeStaging()
		return nil, err
	}
	if err := staging.Close(); err != nil {
		b.removeStaging()
		return nil, err
	}

	if err := b.open(); err != nil {
		b.removeStaging()
		return nil, err
	}
	logger.V(1).Info("opened keepass database", "bucket", opts.Bucket, "key", opts.Key,
		"group", strings.Join(opts.GroupPath, "/"))
	return b, nil
}

func (b *KeepassBackend) open() error {
	f, err := os.Open(b.stagingPath)
	if err != nil {
		return err
	}
	defer f.Close()

	db := gokeepasslib.NewDatabase()
	db.Credentials = gokeepasslib.NewPasswordCredentials(b.opts.Password)
	if err := gokeepasslib.NewDecoder(f).Decode(db); err != nil {
		return apierror.Wrap(apierror.KindStructuralConfig, err,
			"failed to open keepass database, is the password correct?")
	}
	if err := db.UnlockProtectedEntries(); err != nil {
		return apierror.Wrap(apierror.KindStructuralConfig, err, "failed to unlock keepass entries")
	}

	group, err := findGroup(db, b.opts.GroupPath)
	if err != nil {
		return err
	}
	b.db = db
	b.group = group
	return nil
}

func findGroup(db *gokeepasslib.Database, path []string) (*gokeepasslib.Group, error) {
	if db.Content == nil || db.Content.Root == nil || len(db.Content.Root.Groups) == 0 {
		return nil, apierror.New(apierror.KindStructuralConfig, "keepass database has no root group")
	}
	group := &db.Content.Root.Groups[0]
	for _, name := range path {
		var next *gokeepasslib.Group
		for i := range group.Groups {
			if group.Groups[i].Name == name {
				next = &group.Groups[i]
				break
			}
		}
		if next == nil {
			return nil, apierror.New(apierror.KindStructuralConfig,
				"keepass group %s does not exist", strings.Join(path, "/"))
		}
		group = next
	}
	return group, nil
}

func (b *KeepassBackend) Kind() Kind {
	return KindKeepass
}

func (b *KeepassBackend) entry(name string) *gokeepasslib.Entry {
	for i := range b.group.Entries {
		if b.group.Entries[i].GetTitle() == name {
			return &b.group.Entries[i]
		}
	}
	return nil
}

func (b *KeepassBackend) GetCredentials(_ context.Context, name string, required bool) (v1alpha1.Credentials, bool, error) {
	if b.sealed() {
		return v1alpha1.Credentials{}, false, fmt.Errorf("keepass database is already closed")
	}
	e := b.entry(name)
	if e == nil {
		if required {
			return v1alpha1.Credentials{}, false, notFound(KindKeepass, name)
		}
		return v1alpha1.Credentials{Name: name}, false, nil
	}
	return v1alpha1.Credentials{
		Name:      name,
		AccessKey: e.GetContent(keepassUserNameKey),
		SecretKey: e.GetPassword(),
	}, true, nil
}

func (b *KeepassBackend) SetCredentials(_ context.Context, creds v1alpha1.Credentials) error {
	if b.sealed() {
		return fmt.Errorf("keepass database is already closed")
	}
	if e := b.entry(creds.Name); e != nil {
		setValue(e, keepassUserNameKey, creds.AccessKey, false)
		setValue(e, keepassPasswordKey, creds.SecretKey, true)
	} else {
		e := gokeepasslib.NewEntry()
		setValue(&e, keepassTitleKey, creds.Name, false)
		setValue(&e, keepassUserNameKey, creds.AccessKey, false)
		setValue(&e, keepassPasswordKey, creds.SecretKey, true)
		b.group.Entries = append(b.group.Entries, e)
	}
	b.dirty = true
	return nil
}

func setValue(e *gokeepasslib.Entry, key, value string, protected bool) {
	for i := range e.Values {
		if e.Values[i].Key == key {
			e.Values[i].Value.Content = value
			e.Values[i].Value.Protected = wrappers.NewBoolWrapper(protected)
			return
		}
	}
	e.Values = append(e.Values, gokeepasslib.ValueData{
		Key:   key,
		Value: gokeepasslib.V{Content: value, Protected: wrappers.NewBoolWrapper(protected)},
	})
}

func (b *KeepassBackend) Dirty() bool {
	return b.dirty
}

// Cleanup saves and uploads the database when it changed and removes the staging file.
// When the upload fails the saved staging file is kept and a later Cleanup retries the upload.
func (b *KeepassBackend) Cleanup(ctx context.Context) error {
	if b.closed {
		return nil
	}
	if !b.dirty {
		b.close()
		return nil
	}

	if b.pending == nil {
		data, err := b.encode()
		if err != nil {
			b.close()
			return err
		}
		b.pending = data
	}
	if err := b.store.PutObject(ctx, b.opts.Bucket, b.opts.Key, b.pending); err != nil {
		b.logger.Error(err, "failed to upload keepass database, the updated copy is kept locally",
			"path", b.stagingPath, "bucket", b.opts.Bucket, "key", b.opts.Key)
		return fmt.Errorf("failed to upload keepass database to bucket %s, updated copy kept at %s: %w",
			b.opts.Bucket, b.stagingPath, err)
	}
	b.logger.Info("uploaded keepass database", "bucket", b.opts.Bucket, "key", b.opts.Key)
	b.close()
	return nil
}

func (b *KeepassBackend) encode() ([]byte, error) {
	if err := b.db.LockProtectedEntries(); err != nil {
		return nil, fmt.Errorf("failed to lock keepass entries: %w", err)
	}
	var buf bytes.Buffer
	if err := gokeepasslib.NewEncoder(&buf).Encode(b.db); err != nil {
		return nil, fmt.Errorf("failed to encode keepass database: %w", err)
	}
	if err := os.WriteFile(b.stagingPath, buf.Bytes(), 0o600); err != nil {
		return nil, fmt.Errorf("failed to save keepass database: %w", err)
	}
	return buf.Bytes(), nil
}

func (b *KeepassBackend) close() {
	b.closed = true
	b.pending = nil
	b.removeStaging()
}

// sealed reports whether entries can no longer be read or changed.
func (b *KeepassBackend) sealed() bool {
	return b.closed || b.pending != nil
}

// StagingPath is the local copy of the database. It no longer exists after a successful Cleanup.
func (b *KeepassBackend) StagingPath() string {
	return b.stagingPath
}

func (b *KeepassBackend) removeStaging() {
	if err := os.Remove(b.stagingPath); err != nil && !os.IsNotExist(err) {
		b.logger.Error(err, "failed to remove keepass staging file", "path", b.stagingPath)
	}
}
