package bus

import "strings"

// Well-known services, paths and interfaces of the session protocol.
const (
	ServicePrefix   = "xyz.openbmc_project.Session."
	ManagerPath     = "/xyz/openbmc_project/session_manager"
	UserRootPath    = "/xyz/openbmc_project/user"
	MapperService   = "xyz.openbmc_project.ObjectMapper"
	MapperPath      = "/xyz/openbmc_project/object_mapper"
	MapperInterface = "xyz.openbmc_project.ObjectMapper"

	SessionItemInterface  = "xyz.openbmc_project.Session.Item"
	SessionBuildInterface = "xyz.openbmc_project.Session.Build"
	AssociationInterface  = "xyz.openbmc_project.Association.Definitions"
	DeleteInterface       = "xyz.openbmc_project.Object.Delete"
	UserInterface         = "xyz.openbmc_project.User.Attributes"
	PropertiesInterface   = "org.freedesktop.DBus.Properties"
)

// Session object properties.
const (
	PropSessionID    = "SessionID"
	PropSessionType  = "SessionType"
	PropRemoteIPAddr = "RemoteIPAddr"
	PropAssociations = "Associations"
)

// Method names.
const (
	MethodSetSessionMetadata = "SetSessionMetadata"
	MethodClose              = "Close"
	MethodDelete             = "Delete"
	MethodCommitSessionBuild = "CommitSessionBuild"
	MethodResetSessionBuild  = "ResetSessionBuild"
)

// Association relation names linking a session to its owner.
const (
	RelationUser    = "user"
	RelationSession = "session"
)

// ServiceName returns the bus name claimed by the registry for slug.
func ServiceName(slug string) string {
	return ServicePrefix + slug
}

// RegistryPath is the parent of every session object published under slug.
func RegistryPath(slug string) string {
	return ManagerPath + "/" + slug
}

// SessionPath returns the object path of one session.
func SessionPath(slug, hexID string) string {
	return RegistryPath(slug) + "/" + hexID
}

// UserPath returns the object path of a user account.
func UserPath(name string) string {
	return UserRootPath + "/" + name
}

// LastSegment returns the final element of an object path.
func LastSegment(path string) string {
	path = strings.TrimRight(path, "/")
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}

// ValidSlug reports whether slug can be used as a single bus name element.
func ValidSlug(slug string) bool {
	if slug == "" || slug[0] >= '0' && slug[0] <= '9' {
		return false
	}
	for i := 0; i < len(slug); i++ {
		c := slug[i]
		isAlpha := c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
		isDigit := c >= '0' && c <= '9'
		if !(isAlpha || isDigit || c == '_') {
			return false
		}
	}
	return true
}
