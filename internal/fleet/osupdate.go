package fleet

import (
	"encoding/json"
)

// OSUpdate is the package-manager state an agent reports. Fields the client
// does not model are kept in Extra and written back unchanged.
type OSUpdate struct {
	Status    string
	Upgrades  int
	SudoAptOK *bool
	Extra     map[string]json.RawMessage
}

var osUpdateKnown = map[string]bool{
	"status":      true,
	"upgrades":    true,
	"sudo_apt_ok": true,
}

// UnmarshalJSON splits known fields from the passthrough bag. A negative or
// null upgrade count reads as zero.
func (u *OSUpdate) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var known struct {
		Status    *string `json:"status"`
		Upgrades  *int    `json:"upgrades"`
		SudoAptOK *bool   `json:"sudo_apt_ok"`
	}
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}

	*u = OSUpdate{SudoAptOK: known.SudoAptOK}
	if known.Status != nil {
		u.Status = *known.Status
	}
	if known.Upgrades != nil && *known.Upgrades > 0 {
		u.Upgrades = *known.Upgrades
	}
	for key, value := range raw {
		if osUpdateKnown[key] {
			continue
		}
		if u.Extra == nil {
			u.Extra = make(map[string]json.RawMessage)
		}
		u.Extra[key] = value
	}
	return nil
}

// MarshalJSON writes known fields and Extra in one object.
func (u OSUpdate) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(u.Extra)+3)
	for key, value := range u.Extra {
		out[key] = value
	}
	var err error
	if out["status"], err = json.Marshal(u.Status); err != nil {
		return nil, err
	}
	if out["upgrades"], err = json.Marshal(u.Upgrades); err != nil {
		return nil, err
	}
	if u.SudoAptOK != nil {
		if out["sudo_apt_ok"], err = json.Marshal(*u.SudoAptOK); err != nil {
			return nil, err
		}
	}
	return json.Marshal(out)
}
