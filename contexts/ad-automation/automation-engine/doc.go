// Package automationengine runs stored advertising rules on a schedule:
// bid and budget changes, search-term negation and harvesting, and listing
// price steps.
//
// Domain and application code reach storage, the ads platform and the
// event bus only through ports; module.go composes the adapters.
package automationengine
