package worker

// Request is a request frame, sent client->worker.
type Request struct {
	Seq  uint32 `json:"seq"`
	Op   string `json:"op"`
	Data string `json:"data"`
}

// Response is a response frame, sent worker->client.
// Seq is the sequence number of the request being answered.
type Response struct {
	Seq  uint32 `json:"seq"`
	Data string `json:"data"`
}

// The wire form of the frames, with pointers so that missing fields can be told apart from empty ones.
type wireRequest struct {
	Seq  *uint32 `json:"seq"`
	Op   *string `json:"op"`
	Data *string `json:"data"`
}

type wireResponse struct {
	Seq  *uint32 `json:"seq"`
	Data *string `json:"data"`
}
