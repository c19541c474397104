package diagrams

type createReq struct {
	ProjectID string            `json:"project_id"`
	Title     string            `json:"title"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata"`
	Message   string            `json:"message"`
}

type saveReq struct {
	Title           string            `json:"title"`
	Content         string            `json:"content"`
	Metadata        map[string]string `json:"metadata"`
	Message         string            `json:"message"`
	ExpectedVersion int64             `json:"expected_version"`
}

type deleteReq struct {
	ExpectedVersion int64 `json:"expected_version"`
}
