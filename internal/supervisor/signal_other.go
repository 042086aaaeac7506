//go:build !unix

package supervisor

import (
	"fmt"
	"os"
	"os/exec"
)

func setProcessGroup(*exec.Cmd) {}

// 非 unix 平台没有可靠的 SIGTERM，Interrupt 失败时由宽限期后的 kill 兜底
func terminate(p *os.Process) error {
	return p.Signal(os.Interrupt)
}

func kill(p *os.Process) {
	_ = p.Kill()
}

func describeExit(code int, _ error) string {
	return fmt.Sprintf("code %d", code)
}
