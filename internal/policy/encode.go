package policy

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Encode maps a Rule to the flat string-keyed record shape used by the
// persistence layer. Array fields are JSON-encoded; object fields are
// flattened into dotted-path keys; absent fields are simply not present.
func Encode(r *Rule) map[string]string {
	out := make(map[string]string)

	if r.PID != "" {
		out["pid"] = r.PID
	}
	out["type"] = string(r.Type)
	if r.Target != "" {
		out["target"] = r.Target
	}
	out["direction"] = string(r.Direction)
	out["action"] = string(r.Action)

	encodeList(out, "scope", r.Scope)
	encodeList(out, "guids", r.GUIDs)
	encodeList(out, "tag", r.Tags)
	encodeList(out, "targets", r.Targets)
	encodeList(out, "applyRules", r.ApplyRules)

	flattenObject(out, "appTimeUsage", r.AppTimeUsage)
	flattenObject(out, "disturbMethod", r.DisturbMethod)

	if r.Seq != nil {
		out["seq"] = strconv.Itoa(*r.Seq)
	}
	if r.Expire != nil {
		out["expire"] = strconv.FormatInt(*r.Expire, 10)
	}
	if r.CronTime != "" {
		out["cronTime"] = r.CronTime
	}
	if r.Duration > 0 {
		out["duration"] = formatNumber(r.Duration)
	}
	out["timestamp"] = formatNumber(r.Timestamp)
	if r.ActivatedTime != nil {
		out["activatedTime"] = formatNumber(*r.ActivatedTime)
	}

	if r.Disabled {
		out["disabled"] = "1"
	}
	if r.UPnP {
		out["upnp"] = "true"
	}
	if r.DNSmasqOnly {
		out["dnsmasq_only"] = "true"
	}
	if r.Trust {
		out["trust"] = "true"
	}
	if r.UseBf != nil {
		out["useBf"] = strconv.FormatBool(*r.UseBf)
	}

	setIfPresent(out, "localPort", r.LocalPort)
	setIfPresent(out, "remotePort", r.RemotePort)
	setIfPresent(out, "matchAppId", r.MatchAppID)

	setIfPresent(out, "protocol", r.Protocol)
	setIfPresent(out, "trafficDirection", r.TrafficDirection)
	setIfPresent(out, "parentRgId", r.ParentRgID)
	setIfPresent(out, "targetRgId", r.TargetRgID)
	setIfPresent(out, "ipttl", r.IPTTL)
	setIfPresent(out, "wanUUID", r.WanUUID)
	setIfPresent(out, "owanUUID", r.OwanUUID)
	setIfPresent(out, "routeType", r.RouteType)
	setIfPresent(out, "resolver", r.Resolver)
	setIfPresent(out, "origDst", r.OrigDst)
	setIfPresent(out, "origDport", r.OrigDport)
	setIfPresent(out, "snatIP", r.SnatIP)
	setIfPresent(out, "flowIsolation", r.FlowIsolation)
	setIfPresent(out, "dscpClass", r.DscpClass)
	setIfPresent(out, "category", r.Category)
	setIfPresent(out, "method", r.Method)
	setIfPresent(out, "alarmType", r.AlarmType)

	encodeNumberPtr(out, "appTimeUsed", r.AppTimeUsed)
	encodeNumberPtr(out, "priority", r.Priority)
	encodeNumberPtr(out, "transferredBytes", r.TransferredBytes)
	encodeNumberPtr(out, "transferredPackets", r.TransferredPackets)
	encodeNumberPtr(out, "avgPacketBytes", r.AvgPacketBytes)
	encodeNumberPtr(out, "disturbTimeUsed", r.DisturbTimeUsed)

	return out
}

func encodeList(out map[string]string, key string, list []string) {
	if len(list) == 0 {
		return
	}
	data, err := json.Marshal(list)
	if err != nil {
		return
	}
	out[key] = string(data)
}

// flattenObject writes a nested object as dotted-path keys:
// {"disturbQuota": 25} under "appTimeUsage" becomes
// "appTimeUsage.disturbQuota" = "25".
func flattenObject(out map[string]string, prefix string, obj map[string]any) {
	for k, v := range obj {
		key := prefix + "." + k
		switch t := v.(type) {
		case map[string]any:
			flattenObject(out, key, t)
		case string:
			out[key] = t
		case float64:
			out[key] = formatNumber(t)
		case bool:
			out[key] = strconv.FormatBool(t)
		case nil:
			// no null placeholders
		default:
			out[key] = fmt.Sprintf("%v", t)
		}
	}
}

func encodeNumberPtr(out map[string]string, key string, v *float64) {
	if v != nil {
		out[key] = formatNumber(*v)
	}
}

func setIfPresent(out map[string]string, key, v string) {
	if v != "" {
		out[key] = v
	}
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// ToRaw converts a flat record into the loosely-typed map Decode
// accepts. Useful when records come back from stores that only carry
// strings.
func ToRaw(flat map[string]string) map[string]any {
	raw := make(map[string]any, len(flat))
	for k, v := range flat {
		raw[k] = v
	}
	return raw
}
