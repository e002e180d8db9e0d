package types

import "encoding/json"

// Mutation is the decoded inner mutation carried by a signed envelope.
// The wire format of the inner payload (protobuf, in the system this
// module is modeled on) is an external contract outside this module's
// scope; this module decodes/encodes it as JSON, which is opaque to
// every component except the verifier and the dispatch logic in
// pkg/dbstore that reads it.
type Mutation struct {
	Action ActionCode `json:"action"`

	// create_doc_db / create_event_db
	Description     string        `json:"description,omitempty"`
	ContractAddress string        `json:"contract_address,omitempty"`
	EventABI        string        `json:"event_abi,omitempty"`
	NodeURL         string        `json:"node_url,omitempty"`
	TTL             int64         `json:"ttl_seconds,omitempty"`
	Tables          []string      `json:"tables,omitempty"`

	// add_collection
	DatabaseAddress Address      `json:"database_address,omitempty"`
	CollectionName  string       `json:"collection_name,omitempty"`
	IndexFields     []IndexField `json:"index_fields,omitempty"`

	// add/update/delete document
	Documents   [][]byte `json:"documents,omitempty"`
	DocumentIDs []int64  `json:"document_ids,omitempty"`
}

// EncodeMutation serializes a Mutation for embedding in a signed envelope.
func EncodeMutation(m *Mutation) ([]byte, error) {
	return json.Marshal(m)
}

// DecodeMutation parses the inner bytes of a signed envelope.
func DecodeMutation(b []byte) (*Mutation, error) {
	var m Mutation
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, ErrBadInnerPayload
	}
	return &m, nil
}
