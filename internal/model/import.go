package model

type ImportObject struct {
	Key    string `json:"key"`
	Format string `json:"format"`
	Size   int64  `json:"size"`
}

type ImportFailure struct {
	Key   string `json:"key"`
	Error string `json:"error"`
}

type ImportReport struct {
	Imported    int             `json:"imported"`
	Skipped     int             `json:"skipped"`
	Failed      []ImportFailure `json:"failed"`
	DocumentIDs []int64         `json:"document_ids"`
}
