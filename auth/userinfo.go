package auth

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// UserInfo is the claim set decoded from an identity token payload.
//
// Well-known claims get typed fields; every other claim is kept in Extra so
// that a round trip through JSON preserves the whole claim set.
type UserInfo struct {
	Subject     string `json:"sub,omitempty"`
	Email       string `json:"email,omitempty"`
	Name        string `json:"name,omitempty"`
	GivenName   string `json:"given_name,omitempty"`
	FamilyName  string `json:"family_name,omitempty"`
	JobTitle    string `json:"job_title,omitempty"`
	Country     string `json:"country,omitempty"`
	ServiceName string `json:"service_name,omitempty"`
	InternalID  string `json:"internal_id,omitempty"`

	Extra map[string]any `json:"-"`
}

// userInfoFields aliases UserInfo without its JSON methods.
type userInfoFields UserInfo

// stringClaims maps the well-known claims onto their typed fields.
func (u *UserInfo) stringClaims() map[string]*string {
	return map[string]*string{
		"sub": &u.Subject, "email": &u.Email, "name": &u.Name,
		"given_name": &u.GivenName, "family_name": &u.FamilyName,
		"job_title": &u.JobTitle, "country": &u.Country,
		"service_name": &u.ServiceName, "internal_id": &u.InternalID,
	}
}

// UnmarshalJSON accepts any claim values. A well-known claim fills its typed
// field only when it is a string; other values are kept in Extra.
func (u *UserInfo) UnmarshalJSON(b []byte) error {
	var all map[string]any
	if err := json.Unmarshal(b, &all); err != nil {
		return err
	}
	if all == nil {
		return errors.New("auth: claims must be a JSON object")
	}
	*u = UserInfo{}
	fields := u.stringClaims()
	for k, v := range all {
		if dst, ok := fields[k]; ok {
			if s, ok := v.(string); ok {
				*dst = s
				continue
			}
			if v == nil {
				continue
			}
		}
		if u.Extra == nil {
			u.Extra = make(map[string]any)
		}
		u.Extra[k] = v
	}
	return nil
}

func (u UserInfo) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(userInfoFields(u))
	if err != nil {
		return nil, err
	}
	if len(u.Extra) == 0 {
		return known, nil
	}
	var merged map[string]any
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, err
	}
	for k, v := range u.Extra {
		if _, ok := merged[k]; ok {
			continue
		}
		merged[k] = v
	}
	return json.Marshal(merged)
}

// DisplayName returns the best available human name.
func (u *UserInfo) DisplayName() string {
	if u == nil {
		return ""
	}
	switch {
	case u.Name != "":
		return u.Name
	case u.GivenName != "" || u.FamilyName != "":
		return strings.TrimSpace(u.GivenName + " " + u.FamilyName)
	case u.Email != "":
		return u.Email
	}
	return u.Subject
}

// DecodeIDToken reads the claims of a compact JWS without verifying its
// signature or expiry.
func DecodeIDToken(raw string) (*UserInfo, error) {
	parts := strings.Split(raw, ".")
	if len(parts) < 2 || parts[1] == "" {
		return nil, errors.New("auth: id token: not a compact JWT")
	}
	// Convert to standard base64 so padded and unpadded payloads both decode.
	seg := strings.NewReplacer("-", "+", "_", "/").Replace(parts[1])
	seg = strings.TrimRight(seg, "=")
	payload, err := base64.RawStdEncoding.DecodeString(seg)
	if err != nil {
		return nil, fmt.Errorf("auth: id token: decode payload: %w", err)
	}
	var u UserInfo
	if err := json.Unmarshal(payload, &u); err != nil {
		return nil, fmt.Errorf("auth: id token: parse claims: %w", err)
	}
	return &u, nil
}
