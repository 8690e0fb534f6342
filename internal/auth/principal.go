package auth

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"tablegate/internal/metadata"
)

// EasyAuth headers injected by the hosting platform in front of the gateway.
const (
	ClientPrincipalHeader = "X-MS-CLIENT-PRINCIPAL"
	ClientRoleHeader      = "X-MS-API-ROLE"
)

// ErrMalformedPrincipal marks a present-but-unusable client principal header.
// The middleware fails such requests closed with a 401 instead of letting a
// broken payload fall through as anonymous.
var ErrMalformedPrincipal = errors.New("malformed client principal")

// staticWebAppsPrincipal is the payload Static Web Apps injects.
type staticWebAppsPrincipal struct {
	IdentityProvider string   `json:"identityProvider"`
	UserID           string   `json:"userId"`
	UserDetails      string   `json:"userDetails"`
	UserRoles        []string `json:"userRoles"`
}

// appServicePrincipal is the payload App Service (EasyAuth) injects.
type appServicePrincipal struct {
	AuthType string            `json:"auth_typ"`
	Claims   []appServiceClaim `json:"claims"`
	NameType string            `json:"name_typ"`
	RoleType string            `json:"role_typ"`
}

type appServiceClaim struct {
	Type  string `json:"typ"`
	Value string `json:"val"`
}

// ParseStaticWebAppsPrincipal decodes the base64 JSON principal of the
// StaticWebApps provider into a UserContext.
func ParseStaticWebAppsPrincipal(header string) (*metadata.UserContext, error) {
	payload, err := decodePrincipal(header)
	if err != nil {
		return nil, err
	}

	var principal staticWebAppsPrincipal
	if err := json.Unmarshal(payload, &principal); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPrincipal, err)
	}
	if len(principal.UserRoles) == 0 {
		return nil, fmt.Errorf("%w: principal carries no roles", ErrMalformedPrincipal)
	}

	user := &metadata.UserContext{
		ID:            principal.UserID,
		Authenticated: hasAuthenticatedRole(principal.UserRoles),
		Roles:         principal.UserRoles,
		Claims: map[string]any{
			"identityProvider": principal.IdentityProvider,
			"userId":           principal.UserID,
			"userDetails":      principal.UserDetails,
		},
	}
	return user, nil
}

// ParseAppServicePrincipal decodes the base64 JSON principal of the
// AppService provider into a UserContext. An empty or missing auth_typ means
// the payload was not produced by the platform and is rejected.
func ParseAppServicePrincipal(header string) (*metadata.UserContext, error) {
	payload, err := decodePrincipal(header)
	if err != nil {
		return nil, err
	}

	var principal appServicePrincipal
	if err := json.Unmarshal(payload, &principal); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPrincipal, err)
	}
	if principal.AuthType == "" {
		return nil, fmt.Errorf("%w: missing auth_typ", ErrMalformedPrincipal)
	}

	roleType := principal.RoleType
	if roleType == "" {
		roleType = "roles"
	}

	user := &metadata.UserContext{
		Authenticated: true,
		Claims:        make(map[string]any, len(principal.Claims)),
	}
	for _, claim := range principal.Claims {
		if claim.Type == "" {
			continue
		}
		if claim.Type == roleType || claim.Type == "roles" {
			user.Roles = append(user.Roles, claim.Value)
			continue
		}
		if claim.Type == principal.NameType || claim.Type == "name" {
			user.ID = claim.Value
		}
		user.Claims[claim.Type] = claim.Value
	}
	return user, nil
}

func decodePrincipal(header string) ([]byte, error) {
	if strings.TrimSpace(header) == "" {
		return nil, fmt.Errorf("%w: empty header", ErrMalformedPrincipal)
	}
	payload, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPrincipal, err)
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedPrincipal)
	}
	return payload, nil
}

func hasAuthenticatedRole(roles []string) bool {
	for _, r := range roles {
		if strings.EqualFold(r, metadata.RoleAuthenticated) {
			return true
		}
	}
	return false
}
