// 版权所有 2024 AgentCrew Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package testutil 提供 AgentCrew 测试的共享工具和辅助函数。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 配置辅助: NewTestConfig 返回毫秒级退避、产物写入临时目录的配置
  - 断言工具: AssertMessagesEqual / AssertJSONEqual / AssertErrorCode /
    AssertContains / AssertEventuallyTrue
  - 数据工具: MustJSON / MustParseJSON / CopyMessages

# 子包

  - testutil/mocks: MockEngine（外部对话引擎，脚本化回复与错误注入）、
    MockSink（运行归档端）
  - testutil/fixtures: 样例花名册与注册表
*/
package testutil
