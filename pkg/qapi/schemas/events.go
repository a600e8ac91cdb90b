package schemas

type EventRequest struct {
	ID      string            `json:"id,omitempty" doc:"Delivery ID; resending the same ID is rejected as a duplicate"`
	Source  string            `json:"source,omitempty" doc:"Origin of the event. Defaults to api"`
	Project string            `json:"project,omitempty" doc:"Repository or project"`
	Commit  string            `json:"commit,omitempty" doc:"Commit SHA"`
	Ref     string            `json:"ref,omitempty" doc:"Branch or tag"`
	Payload map[string]string `json:"payload,omitempty" doc:"Exposed to tasks as QCI_PAYLOAD_<KEY>"`
}

type EventAccepted struct {
	ID   string `json:"id" doc:"Event ID"`
	Type string `json:"type" doc:"Event type"`
}
