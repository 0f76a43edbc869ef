package domain

import "encoding/json"

// UnmarshalJSON accepts both shapes found in legacy content: a bare string
// ("hà nội") or an object ({"id": 3, "answer": "hà nội"}).
func (a *AcceptedAnswer) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		a.ID = 0
		a.Answer = s
		return nil
	}

	type plain AcceptedAnswer
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}

	*a = AcceptedAnswer(p)
	return nil
}
