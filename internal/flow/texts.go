package flow

// User-facing texts of the guided flows. All strings are Brazilian
// Portuguese; the conversational tone mirrors the platform's web copy.
const (
	textWelcome = "Olá! Eu sou o assistente da StageLink. 👋\n" +
		"Para começar, me diga quem é você:\n" +
		"1️⃣ Estudante\n" +
		"2️⃣ Coordenador(a) de estágio"

	textAskUserTypeAgain = "Não entendi. Responda com o número da opção:\n" +
		"1️⃣ Estudante\n" +
		"2️⃣ Coordenador(a) de estágio"

	textAskCPF = "Certo! Me informe seu CPF (somente números ou no formato 000.000.000-00)."

	textInvalidCPF = "Esse CPF não parece válido. Ele deve ter 11 dígitos. Pode conferir e enviar novamente?"

	textCPFNotFound = "Não encontrei esse CPF em nossa base. " +
		"Se você ainda não tem cadastro, me envie seu nome completo e e-mail que eu encaminho sua solicitação."

	textAskPhone = "Por segurança, confirme o telefone cadastrado (com DDD)."

	textPhoneMismatch = "Esse telefone não confere com o cadastro. Pode verificar e enviar novamente?"

	textRegistrationForwarded = "Obrigado! Encaminhei seus dados para a equipe da StageLink. " +
		"Você receberá um retorno no e-mail informado. Até logo! 👋"

	textStudentMenu = "O que você precisa?\n" +
		"1️⃣ Minhas atividades agendadas\n" +
		"2️⃣ Meus dados cadastrais\n" +
		"3️⃣ Ajuda em vídeo\n" +
		"4️⃣ Falar com um atendente\n" +
		"5️⃣ Encerrar atendimento"

	textCoordinatorMenu = "O que você precisa?\n" +
		"1️⃣ Atividades agendadas\n" +
		"2️⃣ Atividades em andamento\n" +
		"3️⃣ Meus estagiários\n" +
		"4️⃣ Meus dados cadastrais\n" +
		"5️⃣ Ajuda em vídeo\n" +
		"6️⃣ Falar com um atendente\n" +
		"7️⃣ Encerrar atendimento"

	textInvalidMenuOption = "Não entendi. Responda com o número de uma das opções do menu."

	textVideoHelp = "Preparei um vídeo curto que explica como usar a plataforma:\n" +
		"https://stagelink.app/ajuda/video\n" +
		"O vídeo resolveu sua dúvida? (sim/não)"

	textVideoHelpResolved = "Que bom! Se precisar de mais alguma coisa, é só chamar. 😊"

	textVideoHelpFollowUpAgain = "Só para confirmar: o vídeo resolveu sua dúvida? Responda sim ou não."

	textGoodbye = "Atendimento encerrado. Obrigado por falar com a StageLink! 👋"

	textNoAgentAvailable = "No momento não há um atendente disponível para a sua instituição. " +
		"Por favor, tente novamente mais tarde ou escreva para suporte@stagelink.app."

	textBackendUnavailable = "Não consegui consultar seus dados agora. Pode tentar novamente em instantes?"

	textEmptyMessage = "Não recebi nenhuma mensagem. Pode escrever sua dúvida?"

	textOpenWelcome = "Olá! Eu sou o assistente inteligente da StageLink. " +
		"Para conversarmos, me informe seu CPF (somente números)."

	textOpenAuthenticated = "Pronto, %s! Pode me perguntar sobre suas atividades, " +
		"pessoas da sua instituição ou seus dados. Quando quiser terminar, envie \"encerrar\"."

	textOpenUnavailable = "Desculpe, não consegui elaborar uma resposta agora. Pode tentar novamente em instantes?"
)
