package types

type ErrorResponse struct {
	Error string `json:"error"`
}

func (r *ErrorResponse) GetError() string {
	if r == nil {
		return ""
	}
	return r.Error
}

type HealthResponse struct {
	Status string `json:"status"`
}

func (r *HealthResponse) GetStatus() string {
	if r == nil {
		return ""
	}
	return r.Status
}
