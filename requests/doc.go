// Package requests defines the domain types shared by every layer of the
// service: the SessionRequest row, its closed status set, the change-feed
// event shape, and the error taxonomy surfaced to callers.
package requests
