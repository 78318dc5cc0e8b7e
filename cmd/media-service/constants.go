package main

const (
	taskTypeResize   = "media:resize"
	taskTypeEnrich   = "media:enrich"
	taskTypeReenrich = "media:reenrich"

	taskMetaPrefix    = "mm:task-meta-"
	ingestTaskListKey = "mm:ingest_task_ids"
	reenrichLastKey   = "mm:reenrich:last:"
	maxTrackedTasks   = 200

	// Retry policy per stage. Resize deliberately has no automatic retry:
	// a stage-1 failure leaves the record ingested and is an operator
	// problem. Enrichment is retried by the task runtime and then masked
	// with fallback metadata.
	resizeMaxRetry = 0
	enrichMaxRetry = 3

	variantOriginal  = "original"
	variantMedium    = "medium"
	variantThumbnail = "thumbnail"
)
