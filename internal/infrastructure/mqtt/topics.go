package mqtt

import "fmt"

// Topic prefixes for the Butler MQTT scheme.
//
// All topics live under the flat scheme: butler/{category}/{id...}
const (
	// TopicPrefix is the base for all Butler topics.
	TopicPrefix = "butler"

	// TopicPrefixEvent is the base for inbound event topics.
	TopicPrefixEvent = "butler/event"

	// TopicPrefixState is the base for entity state topics.
	TopicPrefixState = "butler/state"

	// TopicPrefixAutomation is the base for automation lifecycle topics.
	TopicPrefixAutomation = "butler/automation"

	// TopicPrefixNotify is the base for notification delivery topics.
	TopicPrefixNotify = "butler/notify"

	// TopicPrefixService is the base for service call topics.
	TopicPrefixService = "butler/service"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "butler/system"
)

// Topics provides builders for Butler MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	fired := topics.AutomationFired("morning-lights")
//	// Returns: "butler/automation/morning-lights/fired"
type Topics struct{}

// Event returns the topic for a named inbound event.
//
// Example: butler/event/motion_detected
func (Topics) Event(eventType string) string {
	return fmt.Sprintf("%s/%s", TopicPrefixEvent, eventType)
}

// EntityState returns the topic carrying state updates for an entity.
//
// Example: butler/state/light.living_room
func (Topics) EntityState(entityID string) string {
	return fmt.Sprintf("%s/%s", TopicPrefixState, entityID)
}

// AutomationFired returns the topic for automation trigger notifications.
//
// Example: butler/automation/morning-lights/fired
func (Topics) AutomationFired(automationID string) string {
	return fmt.Sprintf("%s/%s/fired", TopicPrefixAutomation, automationID)
}

// AutomationExecuted returns the topic for completed execution notifications.
//
// Example: butler/automation/morning-lights/executed
func (Topics) AutomationExecuted(automationID string) string {
	return fmt.Sprintf("%s/%s/executed", TopicPrefixAutomation, automationID)
}

// Notify returns the delivery topic for a notification target.
//
// Example: butler/notify/mobile_phone
func (Topics) Notify(target string) string {
	return fmt.Sprintf("%s/%s", TopicPrefixNotify, target)
}

// ServiceCall returns the topic for a service call request.
//
// Example: butler/service/light/turn_on
func (Topics) ServiceCall(domain, service string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefixService, domain, service)
}

// SystemStatus returns the system status topic.
//
// Example: butler/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// SystemShutdown returns the shutdown signal topic.
//
// Example: butler/system/shutdown
func (Topics) SystemShutdown() string {
	return fmt.Sprintf("%s/shutdown", TopicPrefixSystem)
}

// AllEvents returns a pattern matching all inbound events.
//
// Pattern: butler/event/#
func (Topics) AllEvents() string {
	return TopicPrefixEvent + "/#"
}

// AllEntityStates returns a pattern matching all entity state updates.
//
// Pattern: butler/state/+
func (Topics) AllEntityStates() string {
	return TopicPrefixState + "/+"
}

// AllAutomationFired returns a pattern matching all fired notifications.
//
// Pattern: butler/automation/+/fired
func (Topics) AllAutomationFired() string {
	return TopicPrefixAutomation + "/+/fired"
}

// AllTopics returns a pattern matching all Butler topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: butler/#
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}
