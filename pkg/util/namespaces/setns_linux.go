// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// Copyright (c) 2018-2022, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package namespaces

import (
	"fmt"
	"os"
	"runtime"
	"syscall"

	"golang.org/x/sys/unix"
)

var setnsSysNo = map[string]uintptr{
	"386":     346,
	"arm64":   268,
	"amd64":   308,
	"arm":     375,
	"ppc":     350,
	"ppc64":   350,
	"ppc64le": 350,
	"s390x":   339,
	"riscv64": 268,
}

var nsMap = map[string]uintptr{
	"ipc":    syscall.CLONE_NEWIPC,
	"net":    syscall.CLONE_NEWNET,
	"mnt":    syscall.CLONE_NEWNS,
	"uts":    syscall.CLONE_NEWUTS,
	"pid":    syscall.CLONE_NEWPID,
	"cgroup": unix.CLONE_NEWCGROUP,
}

// AllKinds is the five-namespace capsule order used by the enter/run entry
// paths: pid and cgroup must be entered before mnt, since entering mnt
// changes what /proc/<pid>/ns/* resolves to for the calling process.
var AllKinds = []string{"pid", "cgroup", "uts", "ipc", "mnt"}

// Enter enters in provided process namespace.
func Enter(pid int, namespace string) error {
	flag, ok := nsMap[namespace]
	if !ok {
		return fmt.Errorf("namespace %s not supported", namespace)
	}

	path := fmt.Sprintf("/proc/%d/ns/%s", pid, namespace)
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("can't open namespace path %s: %s", path, err)
	}
	defer f.Close()

	ns, ok := setnsSysNo[runtime.GOARCH]
	if !ok {
		return fmt.Errorf("unsupported platform %s", runtime.GOARCH)
	}

	_, _, errSys := syscall.RawSyscall(ns, f.Fd(), flag, 0)
	if errSys != 0 {
		return errSys
	}

	return nil
}

// OpenAll opens a namespace file descriptor for each of kinds against the
// target pid, without entering any of them. The caller setns()s into all of
// them only after the cgroup-attach step (see internal/pkg/cgroups.AttachSelf) has
// completed, per the attach-before-setns protocol.
func OpenAll(pid int, kinds []string) (map[string]*os.File, error) {
	opened := make(map[string]*os.File, len(kinds))
	for _, kind := range kinds {
		if _, ok := nsMap[kind]; !ok {
			closeAll(opened)
			return nil, fmt.Errorf("namespace %s not supported", kind)
		}
		path := fmt.Sprintf("/proc/%d/ns/%s", pid, kind)
		f, err := os.Open(path)
		if err != nil {
			closeAll(opened)
			return nil, fmt.Errorf("can't open namespace path %s: %s", path, err)
		}
		opened[kind] = f
	}
	return opened, nil
}

func closeAll(handles map[string]*os.File) {
	for _, f := range handles {
		f.Close()
	}
}

// EnterAll setns()s into each of the already-open namespace handles, in the
// fixed order given by order, then closes every handle.
func EnterAll(handles map[string]*os.File, order []string) error {
	defer closeAll(handles)

	ns, ok := setnsSysNo[runtime.GOARCH]
	if !ok {
		return fmt.Errorf("unsupported platform %s", runtime.GOARCH)
	}

	for _, kind := range order {
		f, ok := handles[kind]
		if !ok {
			continue
		}
		flag := nsMap[kind]
		if _, _, errSys := syscall.RawSyscall(ns, f.Fd(), flag, 0); errSys != 0 {
			return fmt.Errorf("setns(%s) failed: %s", kind, errSys)
		}
	}
	return nil
}
