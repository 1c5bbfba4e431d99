package job

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sitebookify/sitebookify/horosafe"
)

// FSArtifactStore keeps one zip file per job under
// <dataDir>/jobs/<job_id>/artifact.zip, served by a static download
// handler (see transport_http.go). Since there is no cloud-signed URL
// to hand out for a filesystem backing, "signed" here means a
// short-lived HMAC-signed JWT embedded in the URL's query string,
// following the same HS256 sign/verify shape as the teacher's
// auth.GenerateToken/ValidateToken.
type FSArtifactStore struct {
	dataDir    string
	signingKey []byte
	baseURL    string // e.g. "http://localhost:8080"
}

// DownloadClaims are the JWT claims embedded in an FS-backed signed
// download URL: standard expiry plus the job id the token authorizes.
type DownloadClaims struct {
	jwt.RegisteredClaims
	JobID string `json:"job_id"`
}

// NewFSArtifactStore returns a store rooted at dataDir/jobs. signingKey
// must be at least horosafe.MinSecretLen bytes; baseURL is prefixed to
// every signed URL this store mints.
func NewFSArtifactStore(dataDir, baseURL string, signingKey []byte) (*FSArtifactStore, error) {
	if err := horosafe.ValidateSecret(signingKey); err != nil {
		return nil, fmt.Errorf("job: fs artifact store: %w", err)
	}
	return &FSArtifactStore{dataDir: dataDir, signingKey: signingKey, baseURL: baseURL}, nil
}

func (s *FSArtifactStore) artifactPath(jobID string) string {
	return filepath.Join(s.dataDir, "jobs", jobID, "artifact.zip")
}

func (s *FSArtifactStore) Put(_ context.Context, jobID string, r io.Reader) error {
	path := s.artifactPath(jobID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("job: fs artifact store: mkdir: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("job: fs artifact store: create: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("job: fs artifact store: copy: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("job: fs artifact store: close: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("job: fs artifact store: rename: %w", err)
	}
	return nil
}

func (s *FSArtifactStore) Open(_ context.Context, jobID string) (io.ReadCloser, error) {
	f, err := os.Open(s.artifactPath(jobID))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("job: fs artifact store: open: %w", err)
	}
	return f, nil
}

func (s *FSArtifactStore) SignedURL(_ context.Context, jobID string, ttl time.Duration) (string, error) {
	if _, err := os.Stat(s.artifactPath(jobID)); err != nil {
		return "", ErrNotFound
	}
	token, err := s.sign(jobID, ttl)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/artifacts/%s?token=%s", s.baseURL, jobID, token), nil
}

func (s *FSArtifactStore) sign(jobID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &DownloadClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		JobID: jobID,
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		return "", fmt.Errorf("job: fs artifact store: sign: %w", err)
	}
	return tok, nil
}

// VerifyDownloadToken checks token against jobID, strictly pinning the
// signing method to HS256 to prevent algorithm confusion attacks, the
// same guard auth.ValidateToken applies.
func (s *FSArtifactStore) VerifyDownloadToken(jobID, token string) error {
	parsed, err := jwt.ParseWithClaims(token, &DownloadClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.signingKey, nil
	})
	if err != nil {
		return fmt.Errorf("job: fs artifact store: %w", err)
	}
	claims, ok := parsed.Claims.(*DownloadClaims)
	if !ok || !parsed.Valid || claims.JobID != jobID {
		return fmt.Errorf("job: fs artifact store: token does not authorize job %s", jobID)
	}
	return nil
}
