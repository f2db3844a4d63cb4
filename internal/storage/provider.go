package storage

import "proofrender/internal/ports"

// Provider is the artifact storage contract used by the monitor and the
// download handler. It is an alias to ports.StorageProvider to keep
// call-sites simple.
type Provider = ports.StorageProvider
