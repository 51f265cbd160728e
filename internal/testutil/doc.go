// Package testutil provides controllable fakes for the coordinator ports:
// a store whose jobs resolve when the test says so, a permission table, a
// scripted notifier and a listener that records every signal in order.
package testutil
