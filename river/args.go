package river

// CatalogIndexBatchArgs runs a bounded batch against compkit's index-task
// table. It's intended to be scheduled periodically by the host app (e.g.
// every minute), or enqueued on-demand when you need a backfill.
type CatalogIndexBatchArgs struct {
	Limit int `json:"limit"`
}

func (CatalogIndexBatchArgs) Kind() string { return "compkit_catalog_index_batch" }
