// Package notify implements interfaces.NotificationSink for local logs, HTTP
// webhooks and Kafka topics, plus a fan-out sink combining them.
package notify
