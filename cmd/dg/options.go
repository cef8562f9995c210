package main

import "github.com/oriys/dg/internal/option"

// buildOptionRegistry records, for every stage type name used by a method
// registered in this binary, the flags that stage needs. Grounded on
// common/config.py's per-mixin @Option.requires decorators: each mixin
// there becomes one Require call here, keyed by the concrete stage names
// that embed it.
func buildOptionRegistry() *option.Registry {
	r := option.NewRegistry()

	configURL := option.WithDefault("c", "c", option.TString, "https://urgu.org/config", "config API url")
	sshLogins := []option.Spec{
		option.WithDefault("ll", "", option.TString, "root", "ssh login for Linux"),
		option.WithDefault("lw", "", option.TString, "Administrator", "ssh login for Windows"),
	}

	r.Require("InitHosts", configURL)
	r.Require("ExcludeBannedHosts",
		option.WithDefault("b", "b", option.TStringSlice, option.EMPTY, "ban HOST, excluding it from deployment"))

	for _, stageName := range []string{
		"SetBootIntoCOWMemory", "SetBootIntoLocalLinux", "SetBootIntoLocalWindows", "ResetBoot",
	} {
		r.Require(stageName, configURL)
	}

	for _, stageName := range []string{
		"CheckIsAccessible", "RebootHost", "WaitUntilBootedIntoCOWMemory",
		"MaybeRebootLocalLinux", "WaitUntilBootedIntoLocalWindows",
		"WaitUntilBootedIntoLocalLinux", "RebootNonDefaultOS", "StoreCOWConfig",
	} {
		r.Require(stageName, sshLogins...)
	}

	customizeWindows := append(append([]option.Spec{}, sshLogins...),
		option.WithDefault("wp", "", option.TString, "windows10", "windows root partition label"),
		option.WithDefault("wd", "", option.TString, "", "windows data partition, LABEL:LETTER"),
		option.WithDefault("d", "d", option.TString, "", "windows driver search path"))
	r.Require("CustomizeWindowsSetup", customizeWindows...)

	networkSpecs := append(append([]option.Spec{}, sshLogins...),
		option.Required("l", "l", option.TString, "local address"),
		option.WithDefault("nc", "", option.TInt, 2, "parallel network connections allowed"),
		option.WithDefault("ns", "", option.TInt, 300, "network speed required on each host, in Mbit/s"))
	r.Require("EnsureNetworkSpeed", networkSpecs...)

	nddSpecs := append(append([]option.Spec{}, sshLogins...), configURL,
		option.Required("l", "l", option.TString, "local address"),
		option.WithDefault("n", "n", option.TStringSlice, option.EMPTY,
			"deploy local INPUT into OUTPUT on all the hosts with ndd"),
		option.WithDefault("np", "", option.TInt, 3634, "ndd port to use for transfers"))
	r.Require("RunNDD", nddSpecs...)

	return r
}
