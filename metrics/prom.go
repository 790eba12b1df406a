package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PasteCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "snipbin_paste_created_total",
		Help: "no. of pastes created",
	})
	PasteRetrieved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "snipbin_paste_retrieved_total",
		Help: "no. of pastes retrieved",
	})
	PasteDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "snipbin_paste_deleted_total",
		Help: "no. of pastes deleted",
	})
	KeyCollisions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "snipbin_key_collisions_total",
		Help: "no. of paste key collisions hit during create",
	})
	UserLogins = promauto.NewCounter(prometheus.CounterOpts{
		Name: "snipbin_user_logins_total",
		Help: "no. of user upserts from external logins",
	})
	EncryptionOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snipbin_encryption_operations_total",
			Help: "no. of encryption/decryption operations",
		},
		[]string{"operation"},
	)
	DecryptFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "snipbin_decrypt_failures_total",
		Help: "no. of records whose ciphertext failed authentication",
	})
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "snipbin_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)
)

func Init() {
}
