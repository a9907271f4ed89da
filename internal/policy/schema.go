package policy

// Field schema applied at the decode boundary. Raw records arrive
// stringly-typed from persistence or the API: arrays and objects may be
// JSON-encoded strings, numbers may be decimal strings, booleans may be
// "1"/"true". Each field is declared once here with its kind; decode
// applies the matching parser and never scatters coercion elsewhere.

// arrayFields hold JSON arrays of strings.
var arrayFields = []string{"scope", "tag", "guids", "applyRules", "targets"}

// objectFields hold JSON objects, possibly flattened into dotted-path
// keys by the codec ("appTimeUsage.disturbQuota").
var objectFields = map[string]bool{
	"appTimeUsage":  true,
	"disturbMethod": true,
}

// numberFields are coerced from decimal strings; malformed values are
// dropped with a warning.
var numberFields = []string{
	"seq", "appTimeUsed", "priority", "transferredBytes",
	"transferredPackets", "avgPacketBytes", "disturbTimeUsed",
}

// boolFields default to false when absent. useBf is not listed: it is
// only materialized when the record carries it.
var boolFields = []string{"upnp", "dnsmasq_only", "trust"}

// passthroughStrings are stored and compared but not interpreted.
var passthroughStrings = []string{
	"protocol", "trafficDirection", "parentRgId", "targetRgId", "ipttl",
	"wanUUID", "owanUUID", "routeType", "resolver", "origDst", "origDport",
	"snatIP", "flowIsolation", "dscpClass", "category", "method", "alarmType",
}
