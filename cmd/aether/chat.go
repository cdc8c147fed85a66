// Copyright 2026 The Aether Frame Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/aetherframe/aether/pkg/config"
	"github.com/aetherframe/aether/pkg/contracts"
)

// ChatCmd runs an interactive chat loop against an in-process agent.
type ChatCmd struct {
	Name   string `help:"Agent name." default:"assistant"`
	System string `help:"System prompt for the agent." default:"You are a helpful assistant."`
	Model  string `help:"Model name." default:"scripted"`
}

func (c *ChatCmd) Run(cli *CLI) error {
	ctx := context.Background()

	cfg := config.Default()
	if cli.Config != "" {
		loader := config.NewLoader(config.LoaderOptions{Path: cli.Config})
		loaded, err := loader.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		defer loader.Close()
		cfg = loaded
	}

	stack, err := buildStack(ctx, cfg)
	if err != nil {
		return err
	}
	defer stack.Close()

	created, err := stack.Assistant.ProcessRequest(ctx, &contracts.TaskRequest{
		TaskID:      "task_" + uuid.NewString(),
		TaskType:    "chat",
		Description: "create chat agent",
		AgentConfig: &contracts.AgentConfig{
			AgentType:    "chat",
			Name:         c.Name,
			SystemPrompt: c.System,
			ModelConfig:  map[string]any{"model": c.Model},
		},
	})
	if err != nil {
		return err
	}
	if created.Status != contracts.TaskStatusSuccess {
		return fmt.Errorf("failed to create agent: %s", created.ErrorMessage)
	}

	chatID := "chat_" + uuid.NewString()
	fmt.Printf("Chatting with %s. Type /quit to exit.\n\n", c.Name)

	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Print("> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				fmt.Println()
				return nil
			}
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			return nil
		}

		res, err := stack.Assistant.ProcessRequest(ctx, &contracts.TaskRequest{
			TaskID:      "task_" + uuid.NewString(),
			TaskType:    "chat",
			Description: line,
			AgentID:     created.AgentID,
			SessionID:   chatID,
			Messages:    []*contracts.Message{contracts.NewUserMessage(line)},
		})
		if err != nil {
			fmt.Printf("error: %v\n", err)
			continue
		}
		if res.Status != contracts.TaskStatusSuccess {
			fmt.Printf("error: %s\n", res.ErrorMessage)
			continue
		}
		fmt.Println(res.FirstAssistantText())
		fmt.Println()
	}
}
