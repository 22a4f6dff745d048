package registry

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/core-tools/hsu-quaestor/pkg/errors"
)

const (
	servicesSegment = "services"
	protocolHTTP    = "http"
	protocolHTTPS   = "https"
)

// ServiceLocation is a value type and is used directly as a map key.
type ServiceLocation struct {
	ServiceName string
	HostName    string
	Port        int
	UseTLS      bool
	Scope       string
}

func (l ServiceLocation) String() string {
	return fmt.Sprintf("%s/%s at %s:%d", l.Scope, l.ServiceName, l.HostName, l.Port)
}

func (l ServiceLocation) Protocol() string {
	if l.UseTLS {
		return protocolHTTPS
	}
	return protocolHTTP
}

// Key renders services/<scope>/<serviceName>/<hostName>/<port>/<protocol>.
func (l ServiceLocation) Key() string {
	return strings.Join([]string{
		servicesSegment, l.Scope, l.ServiceName, l.HostName, strconv.Itoa(l.Port), l.Protocol(),
	}, "/")
}

// ServicePrefix is the key prefix shared by all locations of one service.
func ServicePrefix(scope, serviceName string) string {
	return strings.Join([]string{servicesSegment, scope, serviceName}, "/") + "/"
}

// ParseKey is the inverse of ServiceLocation.Key.
func ParseKey(key string) (ServiceLocation, error) {
	components := strings.Split(key, "/")
	if len(components) != 6 || components[0] != servicesSegment {
		return ServiceLocation{}, errors.NewValidationError("malformed service key", nil).WithContext("key", key)
	}

	port, err := strconv.Atoi(components[4])
	if err != nil {
		return ServiceLocation{}, errors.NewValidationError("cannot parse port of service key", err).WithContext("key", key)
	}

	var useTLS bool
	switch components[5] {
	case protocolHTTP:
	case protocolHTTPS:
		useTLS = true
	default:
		return ServiceLocation{}, errors.NewValidationError("unknown protocol in service key", nil).WithContext("key", key)
	}

	return ServiceLocation{
		Scope:       components[1],
		ServiceName: components[2],
		HostName:    components[3],
		Port:        port,
		UseTLS:      useTLS,
	}, nil
}
