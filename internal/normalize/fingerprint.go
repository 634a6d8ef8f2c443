package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/JakeFAU/jobcrawler/internal/crawler"
)

// Fingerprint is the dedup key for a posting: sha256 over the folded
// organization, folded title and canonical apply URL.
func Fingerprint(org, title, applyURL string) string {
	return digest(fold(org), fold(title), strings.ToLower(applyURL))
}

// ContentHash covers the fields that may change between crawls of the same
// posting. Identical hashes mean an upsert is a no-op.
func ContentHash(job crawler.NormalizedJob) string {
	deadline := ""
	if job.Deadline != nil {
		deadline = job.Deadline.Format(time.DateOnly)
	}
	return digest(
		job.Title,
		job.Organization,
		job.LocationRaw,
		job.Country,
		job.Region,
		job.Level,
		strings.Join(job.Tags, ","),
		job.ApplyURL,
		job.Snippet,
		deadline,
	)
}

func digest(parts ...string) string {
	sum := sha256.New()
	for i, p := range parts {
		if i > 0 {
			sum.Write([]byte{0x1f})
		}
		sum.Write([]byte(p))
	}
	return hex.EncodeToString(sum.Sum(nil))
}
