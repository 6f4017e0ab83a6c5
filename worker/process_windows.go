package worker

import (
	"errors"
	"os"
	"os/exec"
	"unsafe"

	"golang.org/x/sys/windows"
)

func shellCommand(command string) *exec.Cmd {
	return exec.Command("cmd", "/C", command)
}

func setProcAttrs(cmd *exec.Cmd) {}

// startCommand puts the worker in a job object, so that killing the job takes cmd.exe and everything
// it started. The job is also killed when its last handle closes, which happens if this process dies.
func startCommand(cmd *exec.Cmd) (func() error, error) {
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	job, err := assignJob(cmd.Process.Pid)
	if err != nil {
		// only cmd.exe itself can be killed, anything it started may be orphaned
		return func() error { return killProcess(cmd) }, nil
	}
	return func() error {
		defer windows.CloseHandle(job)
		err := windows.TerminateJobObject(job, 1)
		if err != nil {
			return killProcess(cmd)
		}
		return nil
	}, nil
}

func assignJob(pid int) (windows.Handle, error) {
	job, err := windows.CreateJobObject(nil, nil)
	if err != nil {
		return 0, err
	}
	info := windows.JOBOBJECT_EXTENDED_LIMIT_INFORMATION{
		BasicLimitInformation: windows.JOBOBJECT_BASIC_LIMIT_INFORMATION{
			LimitFlags: windows.JOB_OBJECT_LIMIT_KILL_ON_JOB_CLOSE,
		},
	}
	_, err = windows.SetInformationJobObject(
		job,
		windows.JobObjectExtendedLimitInformation,
		uintptr(unsafe.Pointer(&info)),
		uint32(unsafe.Sizeof(info)),
	)
	if err != nil {
		windows.CloseHandle(job)
		return 0, err
	}

	proc, err := windows.OpenProcess(windows.PROCESS_SET_QUOTA|windows.PROCESS_TERMINATE, false, uint32(pid))
	if err != nil {
		windows.CloseHandle(job)
		return 0, err
	}
	defer windows.CloseHandle(proc)
	err = windows.AssignProcessToJobObject(job, proc)
	if err != nil {
		windows.CloseHandle(job)
		return 0, err
	}
	return job, nil
}

func killProcess(cmd *exec.Cmd) error {
	err := cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
