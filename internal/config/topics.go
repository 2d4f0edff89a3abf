package config

const (
	// TopicIngestStatus is the NSQ topic for ingestion stage-transition events.
	TopicIngestStatus = "ingest.status"
)
