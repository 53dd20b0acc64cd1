//go:build linux

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/seccomp/libseccomp-golang"
	"golang.org/x/sys/unix"
)

func loadSeccompProfile(path string) (seccompProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return seccompProfile{}, fmt.Errorf("read seccomp profile: %w", err)
	}
	var p seccompProfile
	if err := json.Unmarshal(data, &p); err != nil {
		return seccompProfile{}, fmt.Errorf("parse seccomp profile: %w", err)
	}
	return p, nil
}

func applySeccomp(path string) error {
	profile, err := loadSeccompProfile(path)
	if err != nil {
		return err
	}
	defaultAction, err := parseSeccompAction(profile.DefaultAction)
	if err != nil {
		return err
	}
	filter, err := seccomp.NewFilter(defaultAction)
	if err != nil {
		return fmt.Errorf("create seccomp filter: %w", err)
	}
	defer filter.Release()
	for _, rule := range profile.Syscalls {
		action, err := parseSeccompAction(rule.Action)
		if err != nil {
			return err
		}
		for _, name := range rule.Names {
			call, err := seccomp.GetSyscallFromName(name)
			if err != nil {
				// Unknown on this architecture.
				continue
			}
			if err := filter.AddRule(call, action); err != nil {
				return fmt.Errorf("add seccomp rule %s: %w", name, err)
			}
		}
	}
	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return fmt.Errorf("set no new privs: %w", err)
	}
	if err := filter.Load(); err != nil {
		return fmt.Errorf("load seccomp filter: %w", err)
	}
	return nil
}
